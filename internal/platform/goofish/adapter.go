// Package goofish implements the platform adapter for the Goofish
// second-hand marketplace.
package goofish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/socialminer/crawler/internal/engine"
)

// PlatformID is the platform identifier used across the engine.
const PlatformID = "goofish"

const baseURL = "https://www.goofish.com"

// Search sort orders accepted by the platform.
const (
	SortGeneral   = ""
	SortNewest    = "new"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
)

// captchaMarkers are the page-content fragments that indicate a slider
// verification challenge.
var captchaMarkers = []string{
	"请拖动下方滑块完成验证",
	"滑动验证",
	"请通过验证",
	"拖动滑块",
	"拖动到最右边",
}

// loginCookieNames are the cookies whose presence proves a live login.
var loginCookieNames = []string{"unb", "cookie2", "sgcookie", "csg"}

// Adapter implements engine.Adapter for goofish.
type Adapter struct {
	Sort string
}

// New builds a goofish adapter.
func New() *Adapter { return &Adapter{Sort: SortGeneral} }

// Platform returns the platform id.
func (a *Adapter) Platform() string { return PlatformID }

// BaseURL returns the platform index URL.
func (a *Adapter) BaseURL() string { return baseURL }

// LoginCookieNames returns the cookie names that prove a live login.
func (a *Adapter) LoginCookieNames() []string { return loginCookieNames }

// SeedIntents builds the initial frontier for a task.
func (a *Adapter) SeedIntents(task engine.CrawlTask) ([]engine.RequestIntent, error) {
	switch task.Mode {
	case engine.ModeSearch:
		if task.Keyword == "" {
			return nil, fmt.Errorf("goofish search task %s: empty keyword", task.ID)
		}
		page := task.StartPage
		if page <= 0 {
			page = 1
		}
		return []engine.RequestIntent{a.searchIntent(task, page)}, nil

	case engine.ModeDetail:
		intents := make([]engine.RequestIntent, 0, len(task.ItemIDs))
		for _, raw := range task.ItemIDs {
			itemID := raw
			if looksLikeURL(raw) {
				parsed, err := ParseItemURL(raw)
				if err != nil {
					return nil, fmt.Errorf("goofish detail task %s: %w", task.ID, err)
				}
				itemID = parsed
			}
			intents = append(intents, a.detailIntent(task, itemID))
		}
		if len(intents) == 0 {
			return nil, fmt.Errorf("goofish detail task %s: no item ids", task.ID)
		}
		return intents, nil

	case engine.ModeCreator:
		if task.CreatorID == "" {
			return nil, fmt.Errorf("goofish creator task %s: empty creator id", task.ID)
		}
		return []engine.RequestIntent{a.creatorIntent(task, 1)}, nil

	default:
		return nil, fmt.Errorf("goofish task %s: unsupported mode %q", task.ID, task.Mode)
	}
}

func (a *Adapter) searchIntent(task engine.CrawlTask, page int) engine.RequestIntent {
	params := map[string]string{
		"q":    task.Keyword,
		"page": strconv.Itoa(page),
	}
	if a.Sort != "" {
		params["sort"] = a.Sort
	}
	return engine.RequestIntent{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Platform: PlatformID,
		Op:       engine.OpSearch,
		Method:   "GET",
		Path:     "/search",
		Params:   params,
		Cursor:   engine.Cursor{Page: page},
	}
}

func (a *Adapter) detailIntent(task engine.CrawlTask, itemID string) engine.RequestIntent {
	return engine.RequestIntent{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Platform: PlatformID,
		Op:       engine.OpDetail,
		Method:   "GET",
		Path:     "/item",
		Params:   map[string]string{"id": itemID},
		ItemKey:  itemID,
	}
}

func (a *Adapter) creatorIntent(task engine.CrawlTask, page int) engine.RequestIntent {
	return engine.RequestIntent{
		ID:       uuid.NewString(),
		TaskID:   task.ID,
		Platform: PlatformID,
		Op:       engine.OpList,
		Method:   "GET",
		Path:     "/personal",
		Params: map[string]string{
			"userId": task.CreatorID,
			"page":   strconv.Itoa(page),
		},
		Cursor: engine.Cursor{Page: page},
	}
}

// DetectBan reports a slider-captcha challenge or a hard block.
func (a *Adapter) DetectBan(statusCode int, payload []byte) (string, bool) {
	for _, m := range captchaMarkers {
		if bytes.Contains(payload, []byte(m)) {
			return m, true
		}
	}
	if statusCode == 403 && bytes.Contains(payload, []byte("punish")) {
		return "punish page", true
	}
	return "", false
}

// SigningScript returns the JavaScript expression that invokes the page's
// own signing routine for the intent. The routine lives in the authenticated
// page context; the engine never re-implements it.
func (a *Adapter) SigningScript(intent engine.RequestIntent) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"path":   intent.Path,
		"params": intent.Params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal signing payload: %w", err)
	}
	script := fmt.Sprintf(`(() => {
  const req = %s;
  if (typeof window.__gf_sign !== "function") {
    throw new Error("signing routine not loaded");
  }
  const out = window.__gf_sign(req.path, req.params) || {};
  return JSON.stringify({ headers: out.headers || {}, query: out.query || {} });
})()`, string(payload))
	return script, nil
}
