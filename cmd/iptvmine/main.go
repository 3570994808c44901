package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voyagen/iptvmine/internal/aggregator"
	"github.com/voyagen/iptvmine/internal/cache"
	"github.com/voyagen/iptvmine/internal/config"
	"github.com/voyagen/iptvmine/internal/fetcher"
	"github.com/voyagen/iptvmine/internal/filter"
	xlog "github.com/voyagen/iptvmine/internal/log"
	"github.com/voyagen/iptvmine/internal/monitor"
	"github.com/voyagen/iptvmine/internal/notify"
	"github.com/voyagen/iptvmine/internal/schedule"
	"github.com/voyagen/iptvmine/internal/server"
	"github.com/voyagen/iptvmine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use env")
	exportPath := flag.String("export", "", "Fetch all sources, write the catalog as M3U to this path and exit")
	monitorOnce := flag.Bool("monitor-once", false, "Run one liveness check and exit")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "iptvmine"})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *exportPath, *monitorOnce); err != nil {
		logger.Error().Err(err).Msg("exiting")
		stop()
		os.Exit(1)
	}
}

type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	redis     *cache.Redis
	sources   store.SourceStore
	cached    *store.CachedStore
	file      *store.FileStore
	cooldowns store.CooldownStore
	policy    *filter.Policy
	client    *fetcher.Client
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, exportPath string, monitorOnce bool) error {
	a := &app{
		cfg:    cfg,
		logger: logger,
		policy: filter.New(),
		client: fetcher.NewClient(fetcher.Options{
			UserAgent:      cfg.UserAgent,
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
		}),
	}
	defer a.close()

	if err := a.openRedis(ctx); err != nil {
		return err
	}
	if err := a.openSources(ctx); err != nil {
		return err
	}
	if err := a.openCooldowns(); err != nil {
		return err
	}

	urls, err := a.sources.SourceURLs(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	agg := aggregator.New(a.client, a.policy, aggregator.WithSources(urls))
	defer agg.Close()

	mon := a.newMonitor(urls)

	switch {
	case exportPath != "":
		return export(ctx, agg, exportPath, logger)
	case monitorOnce:
		rep, out := mon.RunReport(ctx)
		logger.Info().Str(xlog.FieldOutcome, out.String()).
			Int("checked", rep.Checked).Int("live", rep.Live).Int("notified", rep.Notified).
			Msg("monitor run")
		if out != schedule.OutcomeSuccess {
			return fmt.Errorf("monitor run: %s", out)
		}
		return nil
	}

	runner := schedule.NewRunner()
	task := mon.Task()
	task.Policy.Interval = cfg.MonitorInterval
	task.Policy.Flex = cfg.MonitorFlex
	task.Policy.Backoff = cfg.MonitorBackoff
	runner.Register(task)

	var opts []server.Option
	if a.file != nil {
		opts = append(opts, server.WithFavorites(a.file.Favorites()))
	}
	srv := server.New(agg, a.sources, a.policy, cfg.ServerPort, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		res := <-agg.FetchAll(gctx)
		logger.Info().Int("channels", len(res.Channels)).Int("succeeded", res.Succeeded).
			Int("total", res.Total).Str("error", res.Err).Msg("initial catalog loaded")
		return nil
	})
	if a.file != nil {
		if err := os.MkdirAll(filepath.Dir(a.file.Path()), 0o755); err != nil {
			return fmt.Errorf("sources dir: %w", err)
		}
		g.Go(func() error {
			return config.Watch(gctx, a.file.Path(), func() { a.reloadSources(gctx, agg) })
		})
	}
	return g.Wait()
}

func (a *app) openRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.logger.Info().Msg("redis disabled (REDIS_URL not set)")
		return nil
	}
	rds, err := cache.New(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rds.Close() })
	if err := rds.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	a.redis = rds
	a.logger.Info().Msg("redis connected (caching enabled)")
	return nil
}

func (a *app) openSources(ctx context.Context) error {
	var base store.SourceStore
	if a.cfg.DatabaseURL != "" {
		if err := store.RunMigrations(a.cfg.DatabaseURL, migrationsPath()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pg, err := store.NewPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		base = pg
	} else {
		a.file = store.NewFileStore(afero.NewOsFs(), a.cfg.SourcesFile)
		base = a.file
	}

	if len(a.cfg.Sources) > 0 {
		existing, err := base.ListSources(ctx)
		if err != nil {
			return fmt.Errorf("list sources: %w", err)
		}
		if len(existing) == 0 {
			if err := base.SetSources(ctx, a.cfg.Sources); err != nil {
				return fmt.Errorf("seed sources: %w", err)
			}
		}
	}

	a.sources = base
	if a.redis != nil {
		a.cached = store.NewCachedStore(base, a.redis)
		a.sources = a.cached
	}
	return nil
}

// migrationsPath finds the migrations directory next to the working
// directory or the executable.
func migrationsPath() string {
	abs, err := filepath.Abs("migrations")
	if err != nil {
		abs = "migrations"
	}
	if _, err := os.Stat(abs); err != nil {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return "file://" + abs
}

func (a *app) openCooldowns() error {
	switch {
	case a.cfg.CooldownDB != "":
		sq, err := store.OpenSQLiteCooldown(a.cfg.CooldownDB)
		if err != nil {
			return fmt.Errorf("cooldown db: %w", err)
		}
		a.closers = append(a.closers, func() { _ = sq.Close() })
		a.cooldowns = sq
	case a.redis != nil:
		a.cooldowns = store.NewRedisCooldown(a.redis, a.cfg.CooldownWindow)
	default:
		a.cooldowns = store.NewMemoryCooldown(a.cfg.CooldownWindow, 0)
	}
	return nil
}

func (a *app) newMonitor(urls []string) *monitor.Monitor {
	source := a.cfg.MonitorSource
	if source == "" && len(urls) > 0 {
		source = urls[0]
	}

	notifier := notify.Multi{notify.NewLogNotifier(xlog.WithComponent("notify"))}
	if a.redis != nil {
		notifier = append(notifier, notify.NewQueueNotifier(a.redis, ""))
	}

	opts := []monitor.Option{
		monitor.WithPolicy(a.policy),
		monitor.WithMinBattery(a.cfg.MinBattery),
	}
	if a.cfg.ProbeRate > 0 {
		opts = append(opts, monitor.WithLimiter(rate.NewLimiter(rate.Limit(a.cfg.ProbeRate), 1)))
	}
	if a.redis != nil {
		opts = append(opts, monitor.WithDistributedLock(a.redis, monitor.DefaultLockTTL))
	}
	conds := monitor.Combine(monitor.NewSysfsBattery(nil, ""), monitor.NewHostReachability(source, 5*time.Second))

	return monitor.New(source, a.client,
		monitor.NewProber(a.cfg.ProbeTimeout, nil),
		monitor.NewCooldown(a.cooldowns, a.cfg.CooldownWindow),
		notifier, conds, opts...)
}

// reloadSources picks up an edited sources file and refetches the catalog.
func (a *app) reloadSources(ctx context.Context, agg *aggregator.Aggregator) {
	if a.cached != nil {
		a.cached.Invalidate(ctx)
	}
	urls, err := a.sources.SourceURLs(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("reload sources")
		return
	}
	agg.SetSources(urls)
	go func() {
		res := <-agg.FetchAll(ctx)
		if !res.Cancelled {
			a.logger.Info().Int("channels", len(res.Channels)).Str("error", res.Err).Msg("catalog reloaded")
		}
	}()
}

func export(ctx context.Context, agg *aggregator.Aggregator, path string, logger zerolog.Logger) error {
	res := <-agg.FetchAll(ctx)
	if res.Cancelled {
		return errors.New("export cancelled")
	}
	if len(res.Channels) == 0 {
		return fmt.Errorf("nothing to export: %s", res.Err)
	}
	if err := fetcher.ExportFile(path, res.Channels); err != nil {
		return err
	}
	logger.Info().Int("channels", len(res.Channels)).Str("path", path).Msg("playlist exported")
	return nil
}
