package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursecal/internal/config"
	"coursecal/internal/ics"
	appLog "coursecal/internal/log"
	"coursecal/internal/reconcile"
	"coursecal/internal/scrape"
	"coursecal/internal/store"
	"coursecal/internal/store/gormstore"
	"coursecal/internal/syncer"
	"coursecal/internal/view"
	"coursecal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	memory     bool
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("coursecal starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	env := config.LoadEnv()

	appLog.Info("effective config",
		"listen", conf.Listen,
		"scrape_base_url", conf.Scrape.BaseURL,
		"sync_interval_minutes", conf.Sync.IntervalMinutes,
		"auto_sync", conf.Sync.AutoEnabled,
		"subscriptions", len(conf.Subscriptions),
		"memory_store", flags.memory,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	var st store.Store
	if flags.memory {
		st = store.NewMemory()
	} else {
		st, err = gormstore.Open(gormstore.Options{
			Host:     env.DBHost,
			Port:     env.DBPort,
			User:     env.DBUser,
			Password: env.DBPassword,
			DBName:   env.DBName,
			SSLMode:  env.DBSSLMode,
		})
		if err != nil {
			appLog.Error("failed to open store", err)
			os.Exit(1)
		}
	}

	engine := reconcile.NewEngine(st)
	vw := view.New()

	harvester := scrape.NewHarvester(scrape.HarvestOptions{
		BaseURL:       conf.Scrape.BaseURL,
		CourseTimeout: time.Duration(conf.Scrape.CourseTimeoutSec) * time.Second,
	})

	syn := syncer.New(syncer.Options{
		Transport:       harvester,
		Engine:          engine,
		Store:           st,
		View:            vw,
		CourseTimeout:   time.Duration(conf.Scrape.CourseTimeoutSec) * time.Second,
		IntervalMinutes: conf.Sync.IntervalMinutes,
		AutoSyncEnabled: conf.Sync.AutoEnabled,
		Credentials:     env.SessionCredential,
	})

	// Seed the view from whatever the store already holds.
	if err := syn.Refresh(ctx); err != nil {
		appLog.Error("initial view load failed", err)
		os.Exit(1)
	}

	// URL subscriptions are imported once at startup; they feed the same
	// additive file-import path as uploads.
	if len(conf.Subscriptions) > 0 {
		importSubscriptions(ctx, conf, engine, syn)
	}

	if flags.once {
		res, err := syn.SyncNow(ctx, env.SessionCredential)
		if err != nil {
			appLog.Error("one-shot sync failed", err)
			os.Exit(1)
		}
		appLog.Info("one-shot sync done", "courses", res.CoursesCount, "events", res.EventsCount)
		return
	}

	if err := syn.Start(ctx); err != nil {
		appLog.Error("failed to start auto-sync", err)
		os.Exit(1)
	}
	defer syn.Stop()

	srv := web.NewServer(engine, syn, st, vw)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(conf.Listen)
	}()

	select {
	case <-ctx.Done():
		if err := srv.Shutdown(); err != nil {
			appLog.Error("http shutdown failed", err)
		}
	case err := <-errCh:
		if err != nil {
			appLog.Error("http server failed", err)
			os.Exit(1)
		}
	}

	appLog.Info("coursecal exiting")
}

// importSubscriptions fetches each configured ICS URL and imports it as
// a file source. Individual failures are logged and skipped; a broken
// feed must not block the rest of startup.
func importSubscriptions(ctx context.Context, conf *config.Config, engine *reconcile.Engine, syn *syncer.Syncer) {
	fetcher := ics.NewFetcher(conf.CacheDir)

	var files []reconcile.FileSource
	for _, sub := range conf.Subscriptions {
		res, err := fetcher.Fetch(ctx, ics.Subscription{Name: sub.Name, URL: sub.URL})
		if err != nil {
			appLog.Error("subscription fetch failed, skipping", err, "name", sub.Name)
			continue
		}
		name := sub.Name
		if name == "" {
			name = "subscription.ics"
		}
		files = append(files, reconcile.FileSource{FileName: name + ".ics", Content: string(res.Body)})
	}
	if len(files) == 0 {
		return
	}

	reports, err := engine.ImportFiles(ctx, files)
	if err != nil {
		appLog.Error("subscription import failed", err)
		return
	}
	for _, r := range reports {
		appLog.Info("subscription imported",
			"source", r.SourceLabel, "success", r.Success, "events", r.EventCount)
	}
	if err := syn.Refresh(ctx); err != nil {
		appLog.Error("view refresh after subscription import failed", err)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/coursecal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.memory, "memory", false, "Use the in-memory store instead of postgres")
	flag.BoolVar(&cfg.once, "once", false, "Run a single sync and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
