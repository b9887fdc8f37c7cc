package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/predwatch/predwatch/internal/app"
	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/config"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/infra/polymarket"
	"github.com/predwatch/predwatch/internal/interfaces/alerts"
	obshttp "github.com/predwatch/predwatch/internal/interfaces/http"
	"github.com/predwatch/predwatch/internal/outcome"
	"github.com/predwatch/predwatch/internal/persistence"
	"github.com/predwatch/predwatch/internal/persistence/postgres"
	freshredis "github.com/predwatch/predwatch/internal/persistence/redis"
)

func newMonitorCmd() *cobra.Command {
	var noFeed bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch live markets and emit anomaly alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMonitor(cmd.Context(), cfg, noFeed)
		},
	}
	cmd.Flags().BoolVar(&noFeed, "no-feed", false, "disable the websocket feed and rely on polling only")
	return cmd
}

func runMonitor(ctx context.Context, cfg *config.Config, noFeed bool) error {
	client := polymarket.NewClient(polymarket.ClientConfig{
		BaseURL:           cfg.API.DataAPIBaseURL,
		Timeout:           time.Duration(cfg.API.DataAPITimeoutSec) * time.Second,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.RequestBurst,
		UserAgent:         "predwatch/1.0",
	})
	catalog := polymarket.NewMarketsClient(polymarket.DefaultMarketsClientConfig())

	var checkers []obshttp.HealthChecker

	// Redis caches fresh-wallet verdicts; without it every wallet is
	// re-verified against the API on each sighting.
	var store detect.VerificationStore
	if cfg.Storage.RedisAddr != "" {
		ttl := time.Duration(cfg.Storage.FreshnessTTLHrs) * time.Hour
		fresh, err := freshredis.Connect(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisDB, ttl)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, fresh wallet verdicts will not be cached")
		} else {
			store = fresh
			checkers = append(checkers, obshttp.CheckFunc{Component: "redis", Fn: fresh.Ping})
		}
	}

	// Postgres archives trades and alerts; the monitor runs without it.
	var repo persistence.Repository
	if cfg.Storage.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, trades and alerts will not be archived")
		} else {
			defer db.Close()
			repo = postgres.NewRepository(db, 5*time.Second)
			checkers = append(checkers, obshttp.CheckFunc{Component: "postgres", Fn: postgres.NewHealth(db).Ping})
		}
	}

	detectors, err := buildDetectors(cfg.Detection, client, store)
	if err != nil {
		return err
	}
	log.Info().Int("detectors", len(detectors)).Msg("detectors configured")

	var feed app.TradeFeed
	if !noFeed && cfg.API.WebsocketURL != "" {
		feedCfg := polymarket.DefaultFeedConfig(nil)
		feedCfg.URL = cfg.API.WebsocketURL
		feedCfg.ReconnectAttempts = cfg.API.WSReconnectAttempts
		feedCfg.ReconnectDelay = time.Duration(cfg.API.WSReconnectDelaySec) * time.Second
		feed = polymarket.NewFeed(feedCfg)
	}

	metrics := obshttp.NewMetricsRegistry()
	srv := obshttp.NewServer(obshttp.ServerOptions{
		ListenAddr: cfg.Server.ListenAddr,
		Metrics:    metrics,
		Alerts:     repo.Alerts,
		Checkers:   checkers,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("observability server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	monitor := app.NewMonitor(app.MonitorOptions{
		Catalog:    catalog,
		Trades:     client,
		Feed:       feed,
		Detectors:  detectors,
		Evaluator:  confidence.NewEvaluator(cfg.EvaluatorConfig()),
		Confidence: cfg.EvaluatorConfig(),
		Tracker:    outcome.NewTracker(cfg.Outcomes.PriceChangeThreshold, cfg.OutcomeIntervals()),
		Emitter: alerts.NewEmitter(alerts.EmitterConfig{
			MinSeverity:      domain.Severity(cfg.Alerts.MinSeverity),
			MaxPerMarketHour: cfg.Alerts.MaxAlertsPerMarketHour,
			DuplicateWindow:  time.Duration(cfg.Alerts.DuplicateWindowMin) * time.Minute,
		}),
		Metrics:           metrics,
		Repo:              repo,
		VolumeThreshold:   cfg.Monitoring.VolumeThreshold,
		MaxMarkets:        cfg.Monitoring.MaxMarkets,
		DiscoveryInterval: time.Duration(cfg.Monitoring.MarketDiscoveryInterval) * time.Second,
		AnalysisInterval:  time.Duration(cfg.Monitoring.AnalysisIntervalSec) * time.Second,
	})

	log.Info().
		Float64("volume_threshold", cfg.Monitoring.VolumeThreshold).
		Int("max_markets", cfg.Monitoring.MaxMarkets).
		Str("listen", cfg.Server.ListenAddr).
		Msg("starting monitor")
	return monitor.Run(ctx)
}

// buildDetectors constructs every detector with a configured section.
// The fresh-wallet detector needs the trade API for wallet lookups, so
// it only exists on the live path.
func buildDetectors(d config.DetectionConfig, history detect.WalletHistory, store detect.VerificationStore) ([]detect.Detector, error) {
	var out []detect.Detector

	if d.Volume != nil {
		cfg, err := d.VolumeConfig()
		if err != nil {
			return nil, err
		}
		det, err := detect.NewVolumeDetector(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	if d.Whale != nil {
		cfg, err := d.WhaleConfig()
		if err != nil {
			return nil, err
		}
		det, err := detect.NewWhaleDetector(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	if d.Price != nil {
		cfg, err := d.PriceConfig()
		if err != nil {
			return nil, err
		}
		det, err := detect.NewPriceDetector(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	if d.Coordination != nil {
		cfg, err := d.CoordinationConfig()
		if err != nil {
			return nil, err
		}
		det, err := detect.NewCoordinationDetector(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}
	if d.FreshWallet != nil {
		cfg, err := d.FreshWalletConfig()
		if err != nil {
			return nil, err
		}
		det, err := detect.NewFreshWalletDetector(cfg, history, store)
		if err != nil {
			return nil, err
		}
		out = append(out, det)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no detectors configured")
	}
	return out, nil
}
