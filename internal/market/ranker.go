package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lumacorp/industry-exporter/internal/cache"
	"github.com/lumacorp/industry-exporter/internal/metrics"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

const secondsPerDay = 24 * 60 * 60

// Source identifies which eligibility mode produced a snapshot.
type Source string

const (
	SourceMarket Source = "market"
	SourceCorp   Source = "corp"
)

// Filter narrows the catalog to eligible items (see internal/eligibility).
type Filter interface {
	FilterMarket(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error)
	FilterOwned(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error)
}

// CatalogSource provides the reference catalog (see internal/sde).
type CatalogSource interface {
	Catalog() ([]model.CatalogItem, error)
}

// EventPublisher emits refresh events; may be nil.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Config holds the ranker's tunables.
type Config struct {
	MinProfitThreshold float64
	MaxRankSize        int
	Concurrency        int
	SnapshotTTL        time.Duration
}

// Service computes ranked profitability snapshots and persists them.
type Service struct {
	logger  *zap.Logger
	oracle  *Oracle
	cache   *cache.Cache
	catalog CatalogSource
	filter  Filter
	pub     EventPublisher
	cfg     Config
}

// NewService constructs the profitability ranker.
func NewService(logger *zap.Logger, oracle *Oracle, c *cache.Cache, catalog CatalogSource, filter Filter, pub EventPublisher, cfg Config) *Service {
	return &Service{
		logger:  logger,
		oracle:  oracle,
		cache:   c,
		catalog: catalog,
		filter:  filter,
		pub:     pub,
		cfg:     cfg,
	}
}

func snapshotKey(source Source) string {
	return "market:profit_index:" + string(source)
}

// Refresh recomputes the snapshot for source and replaces the persisted one.
// The previous snapshot is only superseded on success.
func (s *Service) Refresh(ctx context.Context, source Source) error {
	items, err := s.catalog.Catalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	var eligible []model.CatalogItem
	switch source {
	case SourceCorp:
		eligible, err = s.filter.FilterOwned(ctx, items)
	default:
		eligible, err = s.filter.FilterMarket(ctx, items)
	}
	if err != nil {
		return fmt.Errorf("filter %s: %w", source, err)
	}

	start := time.Now()
	records := s.rank(ctx, eligible)

	if err := s.cache.SetJSON(ctx, snapshotKey(source), records, s.cfg.SnapshotTTL); err != nil {
		return fmt.Errorf("persist snapshot %s: %w", source, err)
	}

	metrics.SetLastRefresh("profit-"+string(source), time.Now())
	s.logger.Info("market.snapshot_refreshed",
		zap.String("source", string(source)),
		zap.Int("eligible", len(eligible)),
		zap.Int("ranked", len(records)),
		zap.Duration("elapsed", time.Since(start)))

	if s.pub != nil {
		payload := map[string]any{
			"source":       string(source),
			"ranked":       len(records),
			"refreshed_at": time.Now().UTC(),
		}
		if err := s.pub.Publish(ctx, "evt.industry.snapshot.refreshed.v1", payload); err != nil {
			s.logger.Debug("market.publish_failed", zap.Error(err))
		}
	}
	return nil
}

// Snapshot returns the current persisted snapshot for source, if any.
func (s *Service) Snapshot(ctx context.Context, source Source) ([]model.ProfitRecord, bool, error) {
	var records []model.ProfitRecord
	ok, err := s.cache.GetJSON(ctx, snapshotKey(source), &records)
	if err != nil || !ok {
		return nil, false, err
	}
	return records, true, nil
}

// rank evaluates every eligible item and returns the surviving records
// sorted descending by profit index, truncated to the configured maximum.
// Item-scoped failures are skipped; the batch always produces a result for
// the rest.
func (s *Service) rank(ctx context.Context, items []model.CatalogItem) []model.ProfitRecord {
	memo := newPriceMemo()
	results := make([]*model.ProfitRecord, len(items))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			rec, ok, err := s.evaluate(gctx, memo, item)
			if err != nil {
				metrics.IncError("ranker", "item_failed")
				s.logger.Warn("market.item_skipped",
					zap.Int64("type_id", item.TypeID),
					zap.String("name", item.Name),
					zap.Error(err))
				return nil
			}
			if ok {
				results[i] = &rec
			}
			return nil
		})
	}
	_ = g.Wait()

	records := make([]model.ProfitRecord, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ProfitIndex > records[j].ProfitIndex
	})
	if len(records) > s.cfg.MaxRankSize {
		records = records[:s.cfg.MaxRankSize]
	}
	return records
}

// evaluate prices one item. ok is false when the item does not qualify:
// unpriceable, no volume data, or index below threshold.
func (s *Service) evaluate(ctx context.Context, memo *priceMemo, item model.CatalogItem) (model.ProfitRecord, bool, error) {
	sellPrice, priced, err := s.oracle.LowestAsk(ctx, item.TypeID)
	if err != nil {
		return model.ProfitRecord{}, false, err
	}
	if !priced {
		return model.ProfitRecord{}, false, nil
	}

	var productionCost float64
	for _, mat := range item.Materials {
		price, ok, err := memo.lowestAsk(ctx, s.oracle, mat.TypeID)
		if err != nil {
			return model.ProfitRecord{}, false, err
		}
		if !ok {
			// Unpriceable materials contribute nothing to the cost.
			continue
		}
		productionCost += price * float64(mat.Quantity)
	}

	margin := sellPrice - productionCost

	avgVolume, err := s.oracle.DailyAverageVolume(ctx, item.TypeID)
	if err != nil {
		return model.ProfitRecord{}, false, err
	}
	if avgVolume == 0 {
		// Insufficient data, not zero demand.
		return model.ProfitRecord{}, false, nil
	}

	index := margin * avgVolume
	if index <= 0 || index < s.cfg.MinProfitThreshold {
		return model.ProfitRecord{}, false, nil
	}

	blueprintCost, bpPriced, err := s.oracle.LowestAsk(ctx, item.BlueprintID)
	if err != nil {
		return model.ProfitRecord{}, false, err
	}
	var returnTime float64
	if bpPriced {
		// Cost divided by an ISK/day rate, scaled to seconds. Suspect
		// units, kept for compatibility with historical snapshots.
		returnTime = blueprintCost / index * secondsPerDay
	}

	return model.ProfitRecord{
		ItemName:          item.Name,
		ItemID:            item.TypeID,
		ProfitIndex:       index,
		SellPrice:         sellPrice,
		ProductionCost:    productionCost,
		AvgVolume:         avgVolume,
		BlueprintCost:     blueprintCost,
		ReturnTimeSeconds: returnTime,
	}, true, nil
}
