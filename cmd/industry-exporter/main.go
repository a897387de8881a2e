package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/lumacorp/industry-exporter/internal/api"
	"github.com/lumacorp/industry-exporter/internal/cache"
	"github.com/lumacorp/industry-exporter/internal/eligibility"
	"github.com/lumacorp/industry-exporter/internal/esi"
	"github.com/lumacorp/industry-exporter/internal/httpclient"
	"github.com/lumacorp/industry-exporter/internal/jobs"
	"github.com/lumacorp/industry-exporter/internal/ledger"
	"github.com/lumacorp/industry-exporter/internal/market"
	"github.com/lumacorp/industry-exporter/internal/publisher"
	"github.com/lumacorp/industry-exporter/internal/rate"
	"github.com/lumacorp/industry-exporter/internal/sde"
	internalsecrets "github.com/lumacorp/industry-exporter/internal/secrets"
	"github.com/lumacorp/industry-exporter/internal/wallet"
	"github.com/lumacorp/industry-exporter/pkg/config"
	"github.com/lumacorp/industry-exporter/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)

	// --- SSO credentials (AWS Secrets Manager or env) ---
	creds, err := internalsecrets.Resolve(ctx, log, cfg.AWSRegion, cfg.AWSSecretName)
	if err != nil {
		logg.Fatalw("secrets.resolve_failed", "error", err)
	}

	// --- Upstream ESI client ---
	httpClient := &http.Client{Timeout: cfg.ESITimeout}
	tokens := esi.NewSSOTokenSource(log, httpClient, cfg.ESITokenURL, creds)
	limiter := rate.New(rate.Config{
		RequestsPerSecond: cfg.ESIRateRPS,
		Burst:             cfg.ESIRateBurst,
	})
	exec := httpclient.New(log, limiter, httpClient, cfg.ESIRetryMax, "esi")
	client := esi.NewClient(log, exec, cfg.ESIBaseURL, cfg.ESIVerifyURL, cfg.ESIUserAgent, tokens)

	// --- Redis cache ---
	c, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, log)
	if err != nil {
		logg.Fatalw("cache.connect_failed", "addr", cfg.RedisAddr, "error", err)
	}

	// --- Postgres ledger store ---
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logg.Fatalw("pg.parse_config_failed", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.PGMaxConns)
	poolCfg.MinConns = int32(cfg.PGMinConns)
	poolCfg.MaxConnLifetime = cfg.PGMaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.PGMaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.PGHealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Fatalw("pg.connect_failed", "error", err)
	}
	store := ledger.NewPGStore(log, pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logg.Fatalw("pg.ensure_schema_failed", "error", err)
	}

	// --- NATS publisher (optional) ---
	var nc *nats.Conn
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Fatalw("nats.connect_failed", "url", cfg.NATSURL, "error", err)
		}
		pub, err = publisher.New(log, nc, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("nats.jetstream_failed", "error", err)
		}
	} else {
		logg.Warn("NATS_URL not configured; event publishing disabled")
	}

	// --- Reference catalog ---
	loader := sde.NewLoader(log, cfg.TypesPath, cfg.BlueprintsPath)

	// --- Services ---
	filter := eligibility.New(log, client, c, eligibility.Config{
		RegionID:  cfg.RegionID,
		MarketTTL: cfg.MarketSetTTL,
		OwnedTTL:  cfg.OwnedSetTTL,
		SkillsTTL: cfg.SkillsTTL,
		MaxPages:  cfg.ESIMaxPages,
	})
	oracle := market.NewOracle(log, client, cfg.RegionID, cfg.VolumeWindowDays, cfg.ESIMaxPages)
	ranker := market.NewService(log, oracle, c, loader, filter, eventPublisher(pub), market.Config{
		MinProfitThreshold: cfg.MinProfitThreshold,
		MaxRankSize:        cfg.MaxRankSize,
		Concurrency:        cfg.ESIConcurrency,
		SnapshotTTL:        cfg.SnapshotTTL,
	})
	walletSvc := wallet.New(log, client, c, cfg.WalletTTL)
	ingestor := ledger.NewIngestor(log, client, store, loader, ledgerPublisher(pub), ledger.Config{
		MaxPages:         cfg.ESIMaxPages,
		RetentionDays:    cfg.RetentionDays,
		VolumeWindowDays: cfg.VolumeWindowDays,
	})

	// --- Scheduler ---
	scheduler := jobs.NewScheduler(log, ctx)
	for _, job := range []jobs.Job{
		{Name: "profit-market", Interval: cfg.ProfitMarketInterval, Run: func(ctx context.Context) error {
			return ranker.Refresh(ctx, market.SourceMarket)
		}},
		{Name: "profit-corp", Interval: cfg.ProfitOwnedInterval, Run: func(ctx context.Context) error {
			return ranker.Refresh(ctx, market.SourceCorp)
		}},
		{Name: "wallet", Interval: cfg.WalletInterval, Run: walletSvc.Refresh},
		{Name: "ledger-ingest", Interval: cfg.IngestInterval, Run: ingestor.Ingest},
	} {
		if err := scheduler.Add(job); err != nil {
			logg.Fatalw("jobs.add_failed", "job", job.Name, "error", err)
		}
	}

	// --- HTTP server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  time.Minute,
	})
	handler := api.NewHandler(log, ranker, walletSvc, ingestor, c.Ping, pool.Ping)
	api.RegisterRoutes(app, handler)

	scheduler.Start()
	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[industry-exporter] running",
		"env", cfg.Env,
		"region_id", cfg.RegionID,
		"nats", cfg.NATSURL != "")

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	pool.Close()
	if err := c.Close(); err != nil {
		logg.Warnw("cache.close_failed", "error", err)
	}
}

// eventPublisher narrows the optional publisher to the ranker's interface
// without passing a typed nil.
func eventPublisher(pub *publisher.Publisher) market.EventPublisher {
	if pub == nil {
		return nil
	}
	return pub
}

func ledgerPublisher(pub *publisher.Publisher) ledger.EventPublisher {
	if pub == nil {
		return nil
	}
	return pub
}
