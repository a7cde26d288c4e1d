package goofish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/socialminer/crawler/internal/engine"
)

// Item is the normalized goofish record shape.
type Item struct {
	ItemID     string   `json:"item_id"`
	Title      string   `json:"title"`
	Price      string   `json:"price"`
	PriceValue *float64 `json:"price_value,omitempty"`
	Desc       string   `json:"desc,omitempty"`
	SellerName string   `json:"seller_name,omitempty"`
	Image      string   `json:"image,omitempty"`
	Images     []string `json:"images,omitempty"`
	Link       string   `json:"link,omitempty"`
	Keyword    string   `json:"keyword,omitempty"`
}

// Parse extracts items and follow-up intents from a successful payload.
func (a *Adapter) Parse(intent engine.RequestIntent, payload []byte) (engine.ParseResult, error) {
	switch intent.Op {
	case engine.OpSearch, engine.OpList:
		return a.parseListing(intent, payload)
	case engine.OpDetail:
		return a.parseDetail(intent, payload)
	default:
		return engine.ParseResult{}, fmt.Errorf("goofish: unsupported op %q", intent.Op)
	}
}

// parseListing reads a search/feed page. Each card yields a detail intent;
// the next page is requested while cards keep appearing.
func (a *Adapter) parseListing(intent engine.RequestIntent, payload []byte) (engine.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return engine.ParseResult{}, fmt.Errorf("goofish: parse listing html: %w", err)
	}

	cards := doc.Find(`a[class*="feeds-item-wrap"]`)
	if cards.Length() == 0 {
		cards = doc.Find(`[class*="item-card"], [class*="goods-item"], [class*="search-item"]`)
	}

	var result engine.ParseResult
	seen := make(map[string]bool)
	cards.Each(func(_ int, sel *goquery.Selection) {
		card, ok := extractCard(sel)
		if !ok || seen[card.ItemID] {
			return
		}
		seen[card.ItemID] = true
		card.Keyword = intent.Params["q"]

		result.Derived = append(result.Derived, engine.RequestIntent{
			ID:       uuid.NewString(),
			TaskID:   intent.TaskID,
			Platform: PlatformID,
			Op:       engine.OpDetail,
			Method:   "GET",
			Path:     "/item",
			Params:   map[string]string{"id": card.ItemID},
			ItemKey:  card.ItemID,
		})
	})

	// has_more semantics: another page exists while the current one still
	// yields cards.
	if len(result.Derived) > 0 {
		next := intent.Cursor.Page + 1
		params := make(map[string]string, len(intent.Params))
		for k, v := range intent.Params {
			params[k] = v
		}
		params["page"] = strconv.Itoa(next)
		result.Next = &engine.RequestIntent{
			ID:       uuid.NewString(),
			TaskID:   intent.TaskID,
			Platform: PlatformID,
			Op:       intent.Op,
			Method:   "GET",
			Path:     intent.Path,
			Params:   params,
			Cursor:   engine.Cursor{Page: next},
		}
	}
	return result, nil
}

func extractCard(sel *goquery.Selection) (Item, bool) {
	link, _ := sel.Attr("href")
	if link == "" {
		link, _ = sel.Find("a").First().Attr("href")
	}

	itemID := ""
	if link != "" {
		if id, err := ParseItemURL(link); err == nil {
			itemID = id
		}
	}
	if itemID == "" {
		itemID, _ = sel.Attr("data-id")
	}
	if itemID == "" {
		itemID, _ = sel.Attr("data-item-id")
	}
	if itemID == "" {
		return Item{}, false
	}

	title := firstText(sel, `[class*="title"]`, `[class*="name"]`, "p", "span")
	price := firstText(sel, `[class*="price"]`, `[class*="Price"]`)
	image, _ := sel.Find("img").First().Attr("src")

	return Item{
		ItemID: itemID,
		Title:  title,
		Price:  price,
		Image:  image,
		Link:   link,
	}, true
}

func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		text := strings.TrimSpace(sel.Find(s).First().Text())
		if len(text) > 2 {
			return text
		}
	}
	return ""
}

// parseDetail reads an item page into one normalized item. Detail pages are
// leaves: no next cursor, no derived intents.
func (a *Adapter) parseDetail(intent engine.RequestIntent, payload []byte) (engine.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return engine.ParseResult{}, fmt.Errorf("goofish: parse detail html: %w", err)
	}

	itemID := intent.ItemKey
	if itemID == "" {
		itemID = intent.Params["id"]
	}
	if itemID == "" {
		return engine.ParseResult{}, fmt.Errorf("goofish: detail intent %s has no item id", intent.ID)
	}

	item := Item{
		ItemID:     itemID,
		Title:      strings.TrimSpace(doc.Find(`[class*="title"], h1`).First().Text()),
		Price:      strings.TrimSpace(doc.Find(`[class*="price"]`).First().Text()),
		Desc:       strings.TrimSpace(doc.Find(`[class*="desc"], [class*="description"]`).First().Text()),
		SellerName: strings.TrimSpace(doc.Find(`[class*="seller"], [class*="user"]`).First().Text()),
		Link:       ItemURL(itemID),
	}
	if v, ok := ExtractPrice(item.Price); ok {
		item.PriceValue = &v
	}
	doc.Find(`[class*="image"] img, [class*="gallery"] img`).Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			item.Images = append(item.Images, src)
		}
	})

	if item.Title == "" && item.Price == "" {
		return engine.ParseResult{}, fmt.Errorf("goofish: detail page for %s carries no item fields", itemID)
	}

	payloadJSON, err := json.Marshal(item)
	if err != nil {
		return engine.ParseResult{}, fmt.Errorf("goofish: marshal item %s: %w", itemID, err)
	}

	return engine.ParseResult{
		Items: []engine.NormalizedItem{{
			Platform: PlatformID,
			Key:      itemID,
			Payload:  payloadJSON,
			TaskID:   intent.TaskID,
		}},
	}, nil
}
