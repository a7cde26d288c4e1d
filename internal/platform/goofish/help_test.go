package goofish

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseItemURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "query form", url: "https://www.goofish.com/item?id=123456", want: "123456"},
		{name: "path form", url: "https://www.goofish.com/item/654321", want: "654321"},
		{name: "path form with suffix", url: "https://www.goofish.com/item/654321.htm", want: "654321"},
		{name: "relative query form", url: "/item?id=777", want: "777"},
		{name: "no id", url: "https://www.goofish.com/search?q=x", wantErr: true},
		{name: "non numeric path", url: "https://www.goofish.com/item/abc", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseItemURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestItemURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.goofish.com/item?id=123", ItemURL("123"))
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://www.goofish.com/search?q=%E7%9B%B8%E6%9C%BA", SearchURL("相机"))
}

func TestExtractPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"¥99.00", 99, true},
		{"￥1500", 1500, true},
		{"88元", 88, true},
		{" ¥0.5 ", 0.5, true},
		{"¥1 500", 0, false}, // inner space survives the strip; not a number
		{"0.5", 0.5, true},
		{"面议", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := ExtractPrice(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		if ok {
			require.InDelta(t, tc.want, got, 0.001, "input %q", tc.in)
		}
	}
}
