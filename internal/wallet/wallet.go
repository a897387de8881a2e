package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/cache"
	"github.com/lumacorp/industry-exporter/internal/esi"
	"github.com/lumacorp/industry-exporter/internal/metrics"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

const snapshotKey = "wallet:balances"

// Upstream is the subset of the ESI client the wallet service needs.
type Upstream interface {
	Identity(ctx context.Context) (characterID, corporationID int64, err error)
	CorpDivisions(ctx context.Context, corporationID int64) ([]esi.Division, error)
	CorpWallets(ctx context.Context, corporationID int64) ([]esi.WalletBalance, error)
}

// Service keeps a cached snapshot of corp wallet balances keyed by division
// name.
type Service struct {
	logger *zap.Logger
	api    Upstream
	cache  *cache.Cache
	ttl    time.Duration
}

// New constructs the wallet snapshot service.
func New(logger *zap.Logger, api Upstream, c *cache.Cache, ttl time.Duration) *Service {
	return &Service{logger: logger, api: api, cache: c, ttl: ttl}
}

// Refresh fetches division names and balances and replaces the cached
// snapshot. Divisions without a custom name fall back to "Master", matching
// the upstream's default for the first wallet.
func (s *Service) Refresh(ctx context.Context) error {
	_, corporationID, err := s.api.Identity(ctx)
	if err != nil {
		return fmt.Errorf("wallet identity: %w", err)
	}

	divisions, err := s.api.CorpDivisions(ctx, corporationID)
	if err != nil {
		return fmt.Errorf("wallet divisions: %w", err)
	}
	names := make(map[int]string, len(divisions))
	for _, div := range divisions {
		if div.Name != "" {
			names[div.Division] = div.Name
		}
	}

	balances, err := s.api.CorpWallets(ctx, corporationID)
	if err != nil {
		return fmt.Errorf("wallet balances: %w", err)
	}

	snapshot := model.WalletSnapshot{
		Balances: make(map[string]decimal.Decimal, len(balances)),
		AsOf:     time.Now().UTC(),
	}
	for _, bal := range balances {
		name, ok := names[bal.Division]
		if !ok {
			name = "Master"
		}
		snapshot.Balances[name] = bal.Balance
	}

	if err := s.cache.SetJSON(ctx, snapshotKey, snapshot, s.ttl); err != nil {
		return fmt.Errorf("persist wallet snapshot: %w", err)
	}

	metrics.SetLastRefresh("wallet", time.Now())
	s.logger.Info("wallet.snapshot_refreshed", zap.Int("divisions", len(snapshot.Balances)))
	return nil
}

// Snapshot returns the cached wallet snapshot, if present and fresh.
func (s *Service) Snapshot(ctx context.Context) (model.WalletSnapshot, bool, error) {
	var snapshot model.WalletSnapshot
	ok, err := s.cache.GetJSON(ctx, snapshotKey, &snapshot)
	if err != nil || !ok {
		return model.WalletSnapshot{}, false, err
	}
	return snapshot, true, nil
}
