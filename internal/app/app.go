// Package app builds the long-lived services shared by every command.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stockcrawler/internal/api"
	"stockcrawler/internal/config"
	"stockcrawler/internal/crawler"
	"stockcrawler/internal/directory"
	"stockcrawler/internal/events"
	"stockcrawler/internal/fetcher"
	"stockcrawler/internal/metrics"
	"stockcrawler/internal/parser"
	"stockcrawler/internal/ratelimit"
	"stockcrawler/internal/service"
)

// App owns the directory connection and everything built on top of it.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Directory directory.Directory
	Refresher *directory.Refresher
	Crawler   *crawler.Crawler
	Service   *service.Service
	Limiter   *ratelimit.Limiter
}

// New opens the configured directory and wires the crawl pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	pairing, err := parser.ParsePairing(cfg.Crawler.Pairing)
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	p := parser.New(
		parser.WithSelectors(cfg.Parser.BlockSelector, cfg.Parser.CellSelector),
		parser.WithPairing(pairing),
	)

	dir, err := directory.Open(ctx, cfg.DirectoryOptions())
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}

	sink := events.Multi(events.NewLogSink(logger.Named("events")), events.NewMetricsSink())

	fetchOpts := fetcher.Options{
		Timeout:      cfg.Fetcher.Timeout,
		UserAgent:    cfg.Fetcher.UserAgent,
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
	}
	fetchLogger := logger.Named("fetcher")
	newFetcher := func() fetcher.Fetcher {
		return fetcher.NewHTTPFetcher(fetchOpts, fetchLogger)
	}

	c := crawler.New(newFetcher, p, crawler.Options{
		MaxInFlight: cfg.Crawler.MaxInFlight,
		TaskTimeout: cfg.Crawler.TaskTimeout,
		Deadline:    cfg.Crawler.Deadline,
		RecordTime:  cfg.Crawler.RecordTime,
	}, sink, logger.Named("crawler"))

	refresher := directory.NewRefresher(dir, directory.RefreshOptions{
		MaxAttempts: cfg.Directory.MaxAttempts,
		RetryWait:   cfg.Directory.RetryWait,
		Timeout:     cfg.Fetcher.Timeout,
		UserAgent:   cfg.Fetcher.UserAgent,
	}, logger.Named("refresh"))

	svc := service.New(dir, c, refresher, sink, service.Options{
		MaxAttempts:   cfg.Directory.MaxAttempts,
		RetryWait:     cfg.Directory.RetryWait,
		ReportDir:     cfg.Report.Dir,
		ReportEnabled: cfg.Report.Enabled,
		ListingURL:    cfg.Directory.ListingURL,
	}, logger.Named("service"))

	return &App{
		Config:    cfg,
		Logger:    logger,
		Directory: dir,
		Refresher: refresher,
		Crawler:   c,
		Service:   svc,
		Limiter:   ratelimit.New(cfg.Server.RatePerSecond, cfg.Server.Burst),
	}, nil
}

// Server returns the HTTP frontend bound to this App's service.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Service, a.Limiter, a.Logger.Named("api"), api.WithListingURL(a.Config.Directory.ListingURL))
}

// Close releases the refresher client and the directory connection.
func (a *App) Close() error {
	return errors.Join(a.Refresher.Close(), a.Directory.Close())
}
