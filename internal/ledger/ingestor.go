package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/esi"
	"github.com/lumacorp/industry-exporter/internal/metrics"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

// Upstream is the subset of the ESI client the ingestor needs.
type Upstream interface {
	Identity(ctx context.Context) (characterID, corporationID int64, err error)
	CorpDivisions(ctx context.Context, corporationID int64) ([]esi.Division, error)
	WalletTransactions(ctx context.Context, corporationID int64, division int, fromID int64) ([]esi.WalletTransaction, error)
}

// NameResolver maps type ids to display names (see internal/sde).
type NameResolver interface {
	TypeName(typeID int64) string
}

// EventPublisher emits ingest events; may be nil.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Config holds the ingestor's pagination and retention tunables.
type Config struct {
	MaxPages         int
	RetentionDays    int
	VolumeWindowDays int
}

// Ingestor pulls corp wallet transactions into the ledger store. Each run
// resumes from the per-division high-water mark, so restarts and overlapping
// pages never duplicate rows.
type Ingestor struct {
	logger *zap.Logger
	api    Upstream
	store  Store
	names  NameResolver
	pub    EventPublisher
	cfg    Config
	now    func() time.Time
}

// NewIngestor constructs a transaction ingestor.
func NewIngestor(logger *zap.Logger, api Upstream, store Store, names NameResolver, pub EventPublisher, cfg Config) *Ingestor {
	return &Ingestor{
		logger: logger,
		api:    api,
		store:  store,
		names:  names,
		pub:    pub,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Ingest pulls new transactions for every wallet division, then prunes rows
// older than the retention horizon. A failing division is skipped; the run
// continues with the rest.
func (in *Ingestor) Ingest(ctx context.Context) error {
	_, corporationID, err := in.api.Identity(ctx)
	if err != nil {
		return fmt.Errorf("ingest identity: %w", err)
	}

	divisions, err := in.api.CorpDivisions(ctx, corporationID)
	if err != nil {
		return fmt.Errorf("ingest divisions: %w", err)
	}

	start := time.Now()
	var inserted int64
	for _, div := range divisions {
		n, err := in.ingestDivision(ctx, corporationID, div.Division)
		if err != nil {
			if esi.IsAuthError(err) {
				metrics.IncError("ledger", "division_unauthorized")
				in.logger.Warn("ledger.division_skipped",
					zap.Int("division", div.Division),
					zap.String("reason", "unauthorized"))
				continue
			}
			metrics.IncError("ledger", "division_failed")
			in.logger.Warn("ledger.division_skipped",
				zap.Int("division", div.Division),
				zap.Error(err))
			continue
		}
		inserted += n
	}
	metrics.AddIngestedTransactions(inserted)

	pruned, err := in.prune(ctx)
	if err != nil {
		metrics.IncError("ledger", "prune_failed")
		in.logger.Warn("ledger.prune_failed", zap.Error(err))
	}

	metrics.SetLastRefresh("ledger-ingest", time.Now())
	in.logger.Info("ledger.ingested",
		zap.Int("divisions", len(divisions)),
		zap.Int64("inserted", inserted),
		zap.Int64("pruned", pruned),
		zap.Duration("elapsed", time.Since(start)))

	if in.pub != nil {
		payload := map[string]any{
			"inserted":    inserted,
			"pruned":      pruned,
			"ingested_at": time.Now().UTC(),
		}
		if err := in.pub.Publish(ctx, "evt.industry.ledger.ingested.v1", payload); err != nil {
			in.logger.Debug("ledger.publish_failed", zap.Error(err))
		}
	}
	return nil
}

// ingestDivision walks one division's transactions newest first, collecting
// everything above the stored high-water mark, and stops on the first page
// that reaches known territory, an empty page, a stuck cursor, or the page
// ceiling.
func (in *Ingestor) ingestDivision(ctx context.Context, corporationID int64, division int) (int64, error) {
	highWater, err := in.store.MaxTransactionID(ctx, division)
	if err != nil {
		return 0, err
	}

	var pending []model.Transaction
	var fromID int64

	for page := 0; page < in.cfg.MaxPages; page++ {
		txns, err := in.api.WalletTransactions(ctx, corporationID, division, fromID)
		if err != nil {
			if esi.IsNotFound(err) {
				break
			}
			return 0, err
		}
		if len(txns) == 0 {
			break
		}

		reachedKnown := false
		for _, tx := range txns {
			if tx.TransactionID <= highWater {
				reachedKnown = true
				break
			}
			pending = append(pending, model.Transaction{
				TransactionID: tx.TransactionID,
				Division:      division,
				TypeID:        tx.TypeID,
				Quantity:      tx.Quantity,
				IsBuy:         tx.IsBuy,
				UnitPrice:     tx.UnitPrice,
				Date:          tx.Date,
			})
		}
		if reachedKnown {
			break
		}

		oldest := txns[len(txns)-1].TransactionID
		if fromID != 0 && oldest >= fromID {
			// Cursor did not move; bail out rather than loop forever.
			break
		}
		fromID = oldest
	}

	inserted, err := in.store.InsertIgnore(ctx, pending)
	if err != nil {
		return 0, err
	}
	in.logger.Debug("ledger.division_ingested",
		zap.Int("division", division),
		zap.Int64("high_water", highWater),
		zap.Int64("inserted", inserted))
	return inserted, nil
}

func (in *Ingestor) prune(ctx context.Context) (int64, error) {
	cutoff := in.now().UTC().AddDate(0, 0, -in.cfg.RetentionDays)
	pruned, err := in.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		metrics.AddPrunedTransactions(pruned)
	}
	return pruned, nil
}

// AverageSoldVolumes aggregates sell-side quantities over the trailing
// window into per-item daily averages, with names resolved through the
// reference catalog.
func (in *Ingestor) AverageSoldVolumes(ctx context.Context) ([]model.SoldAverage, error) {
	window := in.cfg.VolumeWindowDays
	if window < 1 {
		window = 1
	}
	since := in.now().UTC().AddDate(0, 0, -window)

	sums, err := in.store.SalesSumsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("average sold volumes: %w", err)
	}

	averages := make([]model.SoldAverage, 0, len(sums))
	for typeID, qty := range sums {
		averages = append(averages, model.SoldAverage{
			ItemID:    typeID,
			ItemName:  in.names.TypeName(typeID),
			AvgVolume: float64(qty) / float64(window),
		})
	}
	return averages, nil
}
