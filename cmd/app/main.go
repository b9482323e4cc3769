package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pagebinder/internal/collection"
	cfgpkg "github.com/local/pagebinder/internal/config"
	logpkg "github.com/local/pagebinder/internal/logger"
	"github.com/local/pagebinder/internal/metrics"
	"github.com/local/pagebinder/internal/pipeline"
	"github.com/local/pagebinder/internal/render"
	"github.com/local/pagebinder/internal/service"
	"github.com/local/pagebinder/internal/source"
	"github.com/local/pagebinder/internal/store"
	"github.com/local/pagebinder/internal/thumbcache"
)

func main() {
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	metrics.Init()

	// Operation status store
	var st store.StatusStore
	if cfg.Store.RedisURL != "" {
		rs, err := store.NewRedisStatus(cfg.Store.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis status store")
		}
		st = rs
	} else {
		st = store.NewMemoryStatus()
	}
	defer st.Close()

	// Page collection engine
	cache := thumbcache.New(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
	cache.OnEvict(metrics.IncCacheEvict)
	registry := source.NewRegistry()
	backend := render.NewFitz(cfg.Pipeline.Grayscale)
	pipe := pipeline.New(pipeline.Options{
		Backend:   backend,
		Cache:     cache,
		Box:       render.Size{W: cfg.Pipeline.ThumbWidth, H: cfg.Pipeline.ThumbHeight},
		BatchSize: cfg.Pipeline.BatchSize,
	})
	coll := collection.New(collection.Deps{
		Registry:  registry,
		Cache:     cache,
		Scheduler: pipe,
	})
	pipe.SetSink(coll.Publish)
	pipe.Start()
	defer pipe.Stop()

	// HTTP surface
	svc := service.New(service.Dependencies{
		Collection: coll,
		Status:     st,
		ExportDir:  cfg.Export.OutputDir,
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("shutdown complete")
}
