package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/market"
	"github.com/lumacorp/industry-exporter/internal/metrics"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

// ProfitSource serves and recomputes ranked snapshots (see internal/market).
type ProfitSource interface {
	Snapshot(ctx context.Context, source market.Source) ([]model.ProfitRecord, bool, error)
	Refresh(ctx context.Context, source market.Source) error
}

// WalletSource serves the cached wallet snapshot.
type WalletSource interface {
	Snapshot(ctx context.Context) (model.WalletSnapshot, bool, error)
}

// SoldSource aggregates ledger sell volumes (see internal/ledger).
type SoldSource interface {
	AverageSoldVolumes(ctx context.Context) ([]model.SoldAverage, error)
}

// Pinger is a health probe on a backing service.
type Pinger func(ctx context.Context) error

// Handler owns the scrape and health endpoints.
type Handler struct {
	logger     *zap.Logger
	profit     ProfitSource
	wallet     WalletSource
	sold       SoldSource
	cachePing  Pinger
	storePing  Pinger
	promServe  fiber.Handler
	refreshing [2]atomic.Bool // one guard per snapshot source
}

// NewHandler constructs the HTTP handler set.
func NewHandler(logger *zap.Logger, profit ProfitSource, wallet WalletSource, sold SoldSource, cachePing, storePing Pinger) *Handler {
	return &Handler{
		logger:    logger,
		profit:    profit,
		wallet:    wallet,
		sold:      sold,
		cachePing: cachePing,
		storePing: storePing,
		promServe: adaptor.HTTPHandler(promhttp.Handler()),
	}
}

// RegisterRoutes wires the endpoints onto the fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Get("/metrics", h.Metrics)
	app.Get("/healthz", h.Health)
}

// Metrics repopulates the consumer gauges from the current snapshots and
// serves the registry. Gauges are reset first so items that fell out of a
// snapshot stop being emitted. A missing snapshot yields empty series, never
// an error, and triggers one background refresh for that source.
func (h *Handler) Metrics(c *fiber.Ctx) error {
	ctx := c.UserContext()
	metrics.ResetExposition()

	for i, source := range []market.Source{market.SourceMarket, market.SourceCorp} {
		records, ok, err := h.profit.Snapshot(ctx, source)
		if err != nil {
			metrics.IncError("api", "snapshot_read_failed")
			h.logger.Warn("api.snapshot_read_failed",
				zap.String("source", string(source)), zap.Error(err))
			continue
		}
		if !ok {
			h.kickRefresh(i, source)
			continue
		}
		metrics.PublishProfitRecords(records, string(source))
	}

	if snapshot, ok, err := h.wallet.Snapshot(ctx); err != nil {
		metrics.IncError("api", "wallet_read_failed")
		h.logger.Warn("api.wallet_read_failed", zap.Error(err))
	} else if ok {
		metrics.PublishWallet(snapshot)
	}

	if averages, err := h.sold.AverageSoldVolumes(ctx); err != nil {
		metrics.IncError("api", "sold_volumes_failed")
		h.logger.Warn("api.sold_volumes_failed", zap.Error(err))
	} else {
		metrics.PublishSoldAverages(averages)
	}

	return h.promServe(c)
}

// kickRefresh launches at most one background refresh per source; scrapes
// arriving while it runs are served the empty series.
func (h *Handler) kickRefresh(i int, source market.Source) {
	if !h.refreshing[i].CompareAndSwap(false, true) {
		return
	}
	h.logger.Info("api.snapshot_missing_refresh_kicked", zap.String("source", string(source)))
	go func() {
		defer h.refreshing[i].Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.profit.Refresh(ctx, source); err != nil {
			h.logger.Warn("api.background_refresh_failed",
				zap.String("source", string(source)), zap.Error(err))
		}
	}()
}

// Health reports the reachability of the cache and the ledger store.
func (h *Handler) Health(c *fiber.Ctx) error {
	checks := map[string]string{
		"cache": "ok",
		"store": "ok",
	}
	status := "ok"
	code := fiber.StatusOK

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if h.cachePing != nil {
		if err := h.cachePing(ctx); err != nil {
			checks["cache"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}
	if h.storePing != nil {
		if err := h.storePing(ctx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}
