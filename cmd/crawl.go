package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socialminer/crawler/internal/api"
	"github.com/socialminer/crawler/internal/auth"
	"github.com/socialminer/crawler/internal/config"
	"github.com/socialminer/crawler/internal/engine"
	"github.com/socialminer/crawler/internal/executor"
	"github.com/socialminer/crawler/internal/governor"
	"github.com/socialminer/crawler/internal/logging"
	"github.com/socialminer/crawler/internal/orchestrator"
	"github.com/socialminer/crawler/internal/platform"
	"github.com/socialminer/crawler/internal/platform/goofish"
	"github.com/socialminer/crawler/internal/proxy"
	"github.com/socialminer/crawler/internal/session"
	"github.com/socialminer/crawler/internal/signing"
	"github.com/socialminer/crawler/internal/sink"
)

// crawlFlags are CLI overrides applied on top of the config file.
type crawlFlags struct {
	platform string
	mode     string
	keywords string
	itemURLs []string
	creators []string
	maxItems int
	cookies  string
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs crawl tasks against the configured platform",
		Long: `Builds crawl tasks from the configured keywords, item URLs, or
creator ids and runs them through the signing pipeline. Results stream to
the configured sink; task status and metrics are served over HTTP while
the crawl runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.platform, "platform", "", "platform id (default from config)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "crawl mode: search, detail, or creator")
	cmd.Flags().StringVar(&flags.keywords, "keywords", "", "comma-separated search keywords")
	cmd.Flags().StringSliceVar(&flags.itemURLs, "item-urls", nil, "item URLs or ids for detail mode")
	cmd.Flags().StringSliceVar(&flags.creators, "creators", nil, "creator ids for creator mode")
	cmd.Flags().IntVar(&flags.maxItems, "max-items", 0, "per-task item budget")
	cmd.Flags().StringVar(&flags.cookies, "cookies", "", "login cookie string from a logged-in browser")

	return cmd
}

func runCrawl(cmd *cobra.Command, flags crawlFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlags(&cfg, flags)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := platform.NewRegistry()
	registry.Register(goofish.New())

	ad, err := registry.Get(cfg.Platform)
	if err != nil {
		return err
	}

	authn := auth.NewCookieImport(cfg.Session.CookieSource, cookieDomain(ad.BaseURL()))

	sessions := session.NewStore(registry, authn, session.Config{
		Headless:     cfg.Session.Headless,
		UserAgent:    cfg.Session.UserAgent,
		LoginTimeout: time.Duration(cfg.Session.LoginTimeoutSec) * time.Second,
	}, nil, logger)
	defer sessions.Close()

	signer := signing.NewBridge(registry, cfg.SigningTimeout(), nil, logger)

	pool, err := buildPool(cfg, logger)
	if err != nil {
		return err
	}

	exec := executor.New(registry, pool, executor.Config{Timeout: cfg.HTTPTimeout()}, nil, logger)

	gov := governor.New(governor.Config{
		SlotsPerSession: cfg.Governor.SlotsPerSession,
		MinInterval:     time.Duration(cfg.Governor.MinIntervalMs) * time.Millisecond,
		MaxRetries:      cfg.Governor.MaxRetries,
		BackoffBase:     time.Duration(cfg.Governor.BackoffBaseMs) * time.Millisecond,
		BackoffMax:      time.Duration(cfg.Governor.BackoffMaxMs) * time.Millisecond,
		TaskBackoff:     time.Duration(cfg.Governor.TaskBackoffSeconds) * time.Second,
	}, logger)

	snk, err := buildSink(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if c, ok := snk.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				logger.Warn("close sink", zap.Error(cerr))
			}
		}
	}()

	orch := orchestrator.New(sessions, signer, exec, gov, pool, registry, snk, orchestrator.Config{
		MaxConcurrentTasks: cfg.Crawl.MaxConcurrentTasks,
		FailFast:           cfg.Crawl.FailFast,
		TaskTimeout:        cfg.TaskTimeout(),
		MaxBanRotations:    cfg.Governor.MaxBanRotations,
	}, nil, logger)

	srv := api.New(fmt.Sprintf(":%d", cfg.Server.Port), orch, logger)
	go func() {
		if serr := srv.Start(); serr != nil {
			logger.Error("status server failed", zap.Error(serr))
		}
	}()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutCtx); serr != nil {
			logger.Warn("status server shutdown", zap.Error(serr))
		}
	}()

	tasks, err := buildTasks(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reports := orch.Run(ctx, tasks)

	failed := 0
	for _, r := range reports {
		if r.Status == engine.TaskFailed {
			failed++
		}
		logger.Info("task report",
			zap.String("task_id", r.TaskID),
			zap.String("status", string(r.Status)),
			zap.Int("items", r.ItemsCollected),
			zap.Int("skipped", r.IntentsSkipped),
			zap.Int("bans", r.BansEncountered),
			zap.String("first_fatal", r.FirstFatal),
		)
	}
	if failed == len(reports) && len(reports) > 0 {
		return fmt.Errorf("all %d tasks failed", failed)
	}
	logger.Info("crawl finished", zap.Int("tasks", len(reports)), zap.Int("failed", failed))
	return nil
}

func applyFlags(cfg *config.Config, flags crawlFlags) {
	if flags.platform != "" {
		cfg.Platform = flags.platform
	}
	if flags.mode != "" {
		cfg.Mode = flags.mode
	}
	if flags.keywords != "" {
		cfg.Crawl.Keywords = flags.keywords
	}
	if len(flags.itemURLs) > 0 {
		cfg.Crawl.ItemURLs = flags.itemURLs
	}
	if len(flags.creators) > 0 {
		cfg.Crawl.CreatorIDs = flags.creators
	}
	if flags.maxItems > 0 {
		cfg.Crawl.MaxItems = flags.maxItems
	}
	if flags.cookies != "" {
		cfg.Session.CookieSource = flags.cookies
	}
}

// buildTasks expands the crawl config into tasks: one per keyword in search
// mode, one per creator in creator mode, one combined task in detail mode.
func buildTasks(cfg config.Config) ([]*engine.CrawlTask, error) {
	var tasks []*engine.CrawlTask
	switch engine.Mode(cfg.Mode) {
	case engine.ModeSearch:
		for _, kw := range splitList(cfg.Crawl.Keywords) {
			tasks = append(tasks, &engine.CrawlTask{
				ID:        uuid.NewString(),
				Platform:  cfg.Platform,
				Mode:      engine.ModeSearch,
				Keyword:   kw,
				StartPage: cfg.Crawl.StartPage,
				MaxItems:  cfg.Crawl.MaxItems,
			})
		}
		if len(tasks) == 0 {
			return nil, fmt.Errorf("search mode needs at least one keyword")
		}
	case engine.ModeDetail:
		if len(cfg.Crawl.ItemURLs) == 0 {
			return nil, fmt.Errorf("detail mode needs at least one item URL or id")
		}
		tasks = append(tasks, &engine.CrawlTask{
			ID:       uuid.NewString(),
			Platform: cfg.Platform,
			Mode:     engine.ModeDetail,
			ItemIDs:  cfg.Crawl.ItemURLs,
			MaxItems: cfg.Crawl.MaxItems,
		})
	case engine.ModeCreator:
		for _, id := range cfg.Crawl.CreatorIDs {
			tasks = append(tasks, &engine.CrawlTask{
				ID:        uuid.NewString(),
				Platform:  cfg.Platform,
				Mode:      engine.ModeCreator,
				CreatorID: id,
				StartPage: cfg.Crawl.StartPage,
				MaxItems:  cfg.Crawl.MaxItems,
			})
		}
		if len(tasks) == 0 {
			return nil, fmt.Errorf("creator mode needs at least one creator id")
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return tasks, nil
}

func buildPool(cfg config.Config, logger *zap.Logger) (engine.ProxyPool, error) {
	if len(cfg.Proxy.Endpoints) == 0 {
		logger.Info("no proxies configured, egressing directly")
		return proxy.Direct{}, nil
	}
	return proxy.New(cfg.Proxy.Endpoints, proxy.Config{
		FailureThreshold: cfg.Proxy.FailureThreshold,
		CooldownBase:     time.Duration(cfg.Proxy.CooldownSeconds) * time.Second,
	}, nil, logger)
}

func buildSink(ctx context.Context, cfg config.Config) (engine.Sink, error) {
	var (
		inner engine.Sink
		err   error
	)
	switch cfg.Sink.Provider {
	case "memory":
		inner = sink.NewMemory()
	case "jsonl":
		inner, err = sink.NewJSONL(cfg.Sink.OutputPath)
	case "postgres":
		inner, err = sink.NewPostgres(ctx, cfg.Sink.PostgresDSN)
	case "pubsub":
		inner, err = sink.NewPubSub(ctx, cfg.Sink.PubSubProject, cfg.Sink.PubSubTopic)
	default:
		return nil, fmt.Errorf("unknown sink provider %q", cfg.Sink.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Sink.RedisAddr != "" {
		return sink.NewRedisDedup(cfg.Sink.RedisAddr,
			time.Duration(cfg.Sink.RedisKeyTTL)*time.Second, inner)
	}
	return inner, nil
}

// cookieDomain derives the registrable cookie domain from a platform base
// URL, e.g. https://www.goofish.com -> .goofish.com.
func cookieDomain(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	return "." + host
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
