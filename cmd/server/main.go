package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subplot/subplot/internal/automation"
	"github.com/subplot/subplot/internal/config"
	"github.com/subplot/subplot/internal/db"
	"github.com/subplot/subplot/internal/process"
	"github.com/subplot/subplot/internal/provider"
	"github.com/subplot/subplot/internal/provider/omdb"
	"github.com/subplot/subplot/internal/provider/tmdb"
	"github.com/subplot/subplot/internal/provider/tvmaze"
	"github.com/subplot/subplot/internal/scan"
	"github.com/subplot/subplot/internal/server"
	"github.com/subplot/subplot/internal/srt"
	"github.com/subplot/subplot/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func(database *sql.DB) {
		_ = database.Close()
	}(database)

	repo := db.NewRepository(database)
	ledger := usage.NewLedger(repo)

	omdbClient := omdb.New(cfg.OMDbAPIKey, ledger)
	tmdbClient := tmdb.New(cfg.TMDbAPIKey, ledger)
	providers := map[string]provider.Provider{
		provider.SourceOMDb:   omdbClient,
		provider.SourceTMDb:   tmdbClient,
		provider.SourceTVmaze: tvmaze.New(ledger),
		provider.SourceBoth:   provider.NewFallback(omdbClient, tmdbClient),
	}

	processor := srt.NewProcessor(cfg.MinSafeGapMS)
	scanner := scan.NewEngine(repo, processor, providers[provider.SourceBoth], cfg.ProviderDelay)
	batcher := process.NewEngine(repo, processor, providers, cfg.ProviderDelay)
	autoEngine := automation.NewEngine(repo)

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	automation.NewScheduler(repo, autoEngine, scanner).Start(schedulerCtx)

	srv := server.New(cfg, repo, ledger, providers, processor, scanner, batcher, autoEngine)
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Routes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("subplot listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
}
