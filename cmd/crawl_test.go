package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/socialminer/crawler/internal/config"
	"github.com/socialminer/crawler/internal/engine"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildTasks_SearchSplitsKeywords(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Mode = "search"
	cfg.Crawl.Keywords = "胶片相机, 老镜头 ,,"
	cfg.Crawl.StartPage = 2
	cfg.Crawl.MaxItems = 50

	tasks, err := buildTasks(cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "胶片相机", tasks[0].Keyword)
	require.Equal(t, "老镜头", tasks[1].Keyword)
	for _, task := range tasks {
		require.Equal(t, engine.ModeSearch, task.Mode)
		require.Equal(t, 2, task.StartPage)
		require.Equal(t, 50, task.MaxItems)
		require.NotEmpty(t, task.ID)
	}
}

func TestBuildTasks_SearchNeedsKeywords(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Mode = "search"
	cfg.Crawl.Keywords = ""

	_, err := buildTasks(cfg)
	require.Error(t, err)
}

func TestBuildTasks_DetailBundlesItemURLs(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Mode = "detail"
	cfg.Crawl.ItemURLs = []string{"https://www.goofish.com/item?id=1", "2"}

	tasks, err := buildTasks(cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, engine.ModeDetail, tasks[0].Mode)
	require.Len(t, tasks[0].ItemIDs, 2)
}

func TestBuildTasks_CreatorPerID(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Mode = "creator"
	cfg.Crawl.CreatorIDs = []string{"u1", "u2", "u3"}

	tasks, err := buildTasks(cfg)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "u2", tasks[1].CreatorID)
}

func TestApplyFlags_OverridesConfig(t *testing.T) {
	cfg := baseConfig(t)
	applyFlags(&cfg, crawlFlags{
		mode:     "detail",
		itemURLs: []string{"https://www.goofish.com/item?id=9"},
		maxItems: 5,
		cookies:  "unb=1",
	})

	require.Equal(t, "detail", cfg.Mode)
	require.Equal(t, []string{"https://www.goofish.com/item?id=9"}, cfg.Crawl.ItemURLs)
	require.Equal(t, 5, cfg.Crawl.MaxItems)
	require.Equal(t, "unb=1", cfg.Session.CookieSource)
}

func TestCookieDomain(t *testing.T) {
	require.Equal(t, ".goofish.com", cookieDomain("https://www.goofish.com"))
	require.Equal(t, ".api.example.org", cookieDomain("https://api.example.org"))
	require.Empty(t, cookieDomain("::bad::"))
}
