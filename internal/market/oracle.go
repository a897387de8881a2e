package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/esi"
)

// Upstream is the subset of the ESI client the oracle needs.
type Upstream interface {
	RegionOrders(ctx context.Context, regionID, typeID int64, orderType string, page int) ([]esi.Order, error)
	RegionHistory(ctx context.Context, regionID, typeID int64) ([]esi.HistoryDay, error)
}

// Oracle resolves current lowest ask prices and trailing average daily
// traded volumes for single items.
type Oracle struct {
	logger     *zap.Logger
	api        Upstream
	regionID   int64
	windowDays int
	maxPages   int
	now        func() time.Time
}

// NewOracle constructs a price/volume oracle for one market region.
func NewOracle(logger *zap.Logger, api Upstream, regionID int64, windowDays, maxPages int) *Oracle {
	return &Oracle{
		logger:     logger,
		api:        api,
		regionID:   regionID,
		windowDays: windowDays,
		maxPages:   maxPages,
		now:        time.Now,
	}
}

// LowestAsk scans all open sell orders for typeID and returns the minimum
// price. ok is false when no sell orders exist: the item cannot be priced,
// which is not the same as a price of zero.
func (o *Oracle) LowestAsk(ctx context.Context, typeID int64) (price float64, ok bool, err error) {
	var lowest float64
	var found bool

	for page := 1; page <= o.maxPages; page++ {
		orders, err := o.api.RegionOrders(ctx, o.regionID, typeID, "sell", page)
		if esi.IsNotFound(err) {
			break
		}
		if err != nil {
			return 0, false, fmt.Errorf("lowest ask for type %d: %w", typeID, err)
		}
		if len(orders) == 0 {
			break
		}
		for _, order := range orders {
			if !found || order.Price < lowest {
				lowest = order.Price
				found = true
			}
		}
	}

	return lowest, found, nil
}

// DailyAverageVolume sums the traded volume of all history days strictly
// within [today-window, today) — the current, possibly incomplete day is
// excluded — and divides by the window length. A window with no qualifying
// days yields zero, which callers must treat as insufficient data rather
// than zero demand.
func (o *Oracle) DailyAverageVolume(ctx context.Context, typeID int64) (float64, error) {
	history, err := o.api.RegionHistory(ctx, o.regionID, typeID)
	if err != nil {
		return 0, fmt.Errorf("history for type %d: %w", typeID, err)
	}

	end := o.now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -o.windowDays)

	var total int64
	for _, day := range history {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			o.logger.Warn("oracle.history_date_skipped",
				zap.Int64("type_id", typeID),
				zap.String("date", day.Date))
			continue
		}
		if !date.Before(start) && date.Before(end) {
			total += day.Volume
		}
	}

	return float64(total) / float64(o.windowDays), nil
}

// priceMemo memoizes material prices within a single ranking pass. A bill of
// materials repeats the same raw inputs across many items; one lookup per
// material per run is enough. The memo must not outlive the run.
type priceMemo struct {
	mu     sync.Mutex
	prices map[int64]memoEntry
}

type memoEntry struct {
	price float64
	ok    bool
}

func newPriceMemo() *priceMemo {
	return &priceMemo{prices: make(map[int64]memoEntry)}
}

// lowestAsk returns the memoized price for typeID, resolving it through the
// oracle on first use. Unpriceable results are memoized too; upstream errors
// are not.
func (m *priceMemo) lowestAsk(ctx context.Context, oracle *Oracle, typeID int64) (float64, bool, error) {
	m.mu.Lock()
	entry, hit := m.prices[typeID]
	m.mu.Unlock()
	if hit {
		return entry.price, entry.ok, nil
	}

	price, ok, err := oracle.LowestAsk(ctx, typeID)
	if err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	m.prices[typeID] = memoEntry{price: price, ok: ok}
	m.mu.Unlock()
	return price, ok, nil
}
