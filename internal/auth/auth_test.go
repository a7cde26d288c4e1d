package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCookieString(t *testing.T) {
	t.Parallel()

	cookies, err := ParseCookieString("unb=u1; cookie2=c2;sgcookie=sg ; csg=", ".goofish.com")
	require.NoError(t, err)
	require.Len(t, cookies, 4)

	require.Equal(t, "unb", cookies[0].Name)
	require.Equal(t, "u1", cookies[0].Value)
	require.Equal(t, ".goofish.com", cookies[0].Domain)
	require.Equal(t, "/", cookies[0].Path)

	require.Equal(t, "sgcookie", cookies[2].Name)
	require.Equal(t, "sg", cookies[2].Value)

	// empty value is legal, empty name is not
	require.Equal(t, "csg", cookies[3].Name)
	require.Empty(t, cookies[3].Value)
}

func TestParseCookieString_Malformed(t *testing.T) {
	t.Parallel()

	_, err := ParseCookieString("unb=u1; just-a-token", ".goofish.com")
	require.Error(t, err)

	_, err = ParseCookieString("=value", ".goofish.com")
	require.Error(t, err)
}

func TestParseCookieString_Empty(t *testing.T) {
	t.Parallel()

	cookies, err := ParseCookieString("   ", ".goofish.com")
	require.NoError(t, err)
	require.Empty(t, cookies)
}

func TestCookieImport_Cookies(t *testing.T) {
	t.Parallel()

	a := NewCookieImport("unb=u1; cookie2=c2", ".goofish.com")
	require.True(t, a.IsValid(context.Background(), "goofish"))

	cookies, err := a.Cookies(context.Background(), "goofish")
	require.NoError(t, err)
	require.Len(t, cookies, 2)
}

func TestCookieImport_EmptyIsInvalid(t *testing.T) {
	t.Parallel()

	a := NewCookieImport("", ".goofish.com")
	require.False(t, a.IsValid(context.Background(), "goofish"))

	_, err := a.Cookies(context.Background(), "goofish")
	require.Error(t, err)
}
