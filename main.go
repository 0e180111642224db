// Command edgesync runs the edge cache and sync service: webhook ingress
// from ERPNext, the per-family change streams clients pull deltas from, the
// weekly full refresh, and the user/message subsystem.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edgesync.shamra.dev/api"
	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/common"
	"edgesync.shamra.dev/config"
	"edgesync.shamra.dev/erp"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/pipeline"
	"edgesync.shamra.dev/refresh"
	"edgesync.shamra.dev/stream"
	"edgesync.shamra.dev/users"
	"edgesync.shamra.dev/webhook"
)

func main() {
	cfgFile := flag.String("config", "", "path to config file (default: auto-discover config.yaml)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgFile)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := common.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := kv.NewStore(ctx, kv.Config{URL: cfg.Redis.URL})
	if err != nil {
		log.WithError(err).Error("kv store connection failed")
		os.Exit(1)
	}
	defer store.Close()

	ttl := make(map[cache.Family]time.Duration, len(cfg.Cache.TTL))
	for name, d := range cfg.Cache.TTL {
		f := cache.Family(name)
		if !f.Valid() {
			log.WithField("family", name).Warn("ignoring ttl for unknown family")
			continue
		}
		ttl[f] = d
	}

	c := cache.New(store, ttl, log)
	streams := stream.NewManager(store)
	committer := pipeline.NewCommitter(c, streams, log)
	syncer := stream.NewSyncer(streams, c, log)

	client := erp.NewClient(erp.Config{
		BaseURL:   cfg.ERP.BaseURL,
		APIKey:    cfg.ERP.APIKey,
		APISecret: cfg.ERP.APISecret,
		Timeout:   cfg.ERP.Timeout,
		Retries:   cfg.ERP.Retries,
	})
	processor := webhook.NewProcessor(client, c, store, committer, log)
	refresher := refresh.New(client, store, processor, cfg.Refresh.BatchSize, log)

	userStore := users.NewStore(store, log)
	messages := users.NewMessageStore(userStore, c, committer)
	tokens := users.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)

	metrics := api.NewMetrics(streams, cfg.Analytics.Enabled)

	scheduler := refresh.NewScheduler(refresher, cfg.Refresh.Enabled,
		time.Weekday(cfg.Refresh.Weekday), cfg.Refresh.Hour, log)
	go scheduler.Start(ctx)

	server := api.NewServer(cfg, api.Deps{
		Store:     store,
		Cache:     c,
		Processor: processor,
		Syncer:    syncer,
		Streams:   streams,
		Refresher: refresher,
		Users:     userStore,
		Messages:  messages,
		Tokens:    tokens,
	}, metrics, log)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutdown signal received")
	case <-ctx.Done():
		// server failed to start or serve
		os.Exit(1)
	}

	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info("stopped")
}
