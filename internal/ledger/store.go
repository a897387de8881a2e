package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/pkg/model"
)

// Store persists the wallet transaction ledger.
type Store interface {
	EnsureSchema(ctx context.Context) error
	MaxTransactionID(ctx context.Context, division int) (int64, error)
	InsertIgnore(ctx context.Context, txns []model.Transaction) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SalesSumsSince(ctx context.Context, since time.Time) (map[int64]int64, error)
}

// PGStore is the Postgres-backed ledger store.
type PGStore struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
}

// NewPGStore wraps an existing connection pool.
func NewPGStore(logger *zap.Logger, pool *pgxpool.Pool) *PGStore {
	return &PGStore{logger: logger, pool: pool}
}

// EnsureSchema creates the ledger table and its indexes when missing.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    transaction_id BIGINT PRIMARY KEY,
    division       INT            NOT NULL,
    type_id        BIGINT         NOT NULL,
    quantity       BIGINT         NOT NULL,
    is_buy         BOOLEAN        NOT NULL,
    unit_price     NUMERIC(20, 2) NOT NULL,
    date           TIMESTAMPTZ    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_type_date
    ON wallet_transactions (type_id, date);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_division
    ON wallet_transactions (division);`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// MaxTransactionID returns the highest ingested transaction id for a
// division, zero when the division has no rows yet.
func (s *PGStore) MaxTransactionID(ctx context.Context, division int) (int64, error) {
	const q = `SELECT COALESCE(MAX(transaction_id), 0) FROM wallet_transactions WHERE division = $1`

	var max int64
	if err := s.pool.QueryRow(ctx, q, division).Scan(&max); err != nil {
		return 0, fmt.Errorf("max transaction id for division %d: %w", division, err)
	}
	return max, nil
}

// InsertIgnore inserts the given transactions, silently skipping ids that are
// already present, and returns the number of rows actually written.
func (s *PGStore) InsertIgnore(ctx context.Context, txns []model.Transaction) (int64, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	const q = `
INSERT INTO wallet_transactions (transaction_id, division, type_id, quantity, is_buy, unit_price, date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (transaction_id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, tx := range txns {
		batch.Queue(q, tx.TransactionID, tx.Division, tx.TypeID, tx.Quantity, tx.IsBuy, tx.UnitPrice, tx.Date)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range txns {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert transactions: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// PruneBefore deletes all transactions dated strictly before cutoff and
// returns the number of rows removed.
func (s *PGStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM wallet_transactions WHERE date < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune transactions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// SalesSumsSince returns the total quantity sold per type id since the given
// time. Buy-side rows are excluded.
func (s *PGStore) SalesSumsSince(ctx context.Context, since time.Time) (map[int64]int64, error) {
	const q = `
SELECT type_id, SUM(quantity)
FROM wallet_transactions
WHERE is_buy = FALSE AND date >= $1
GROUP BY type_id`

	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, fmt.Errorf("sales sums: %w", err)
	}
	defer rows.Close()

	sums := make(map[int64]int64)
	for rows.Next() {
		var typeID, qty int64
		if err := rows.Scan(&typeID, &qty); err != nil {
			return nil, fmt.Errorf("scan sales sum: %w", err)
		}
		sums[typeID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sales sums rows: %w", err)
	}
	return sums, nil
}
