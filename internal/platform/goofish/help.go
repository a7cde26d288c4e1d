package goofish

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var itemPathRe = regexp.MustCompile(`/item/(\d+)`)

// ParseItemURL extracts the item id from a goofish item URL. Both
// /item?id=123 and /item/123 forms are accepted.
func ParseItemURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse item url %q: %w", raw, err)
	}
	if id := u.Query().Get("id"); id != "" {
		return id, nil
	}
	if m := itemPathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("parse item url %q: no item id", raw)
}

// ItemURL builds the canonical item URL for an id.
func ItemURL(itemID string) string {
	return baseURL + "/item?id=" + url.QueryEscape(itemID)
}

// SearchURL builds the search URL for a keyword.
func SearchURL(keyword string) string {
	return baseURL + "/search?q=" + url.QueryEscape(keyword)
}

var priceStripper = strings.NewReplacer("¥", "", "￥", "", "元", "")

// ExtractPrice pulls the numeric price out of strings like "¥99.00" or
// "99元".
func ExtractPrice(s string) (float64, bool) {
	clean := strings.TrimSpace(priceStripper.Replace(s))
	if clean == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
