package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one row of the corp wallet transaction ledger. Immutable
// once ingested; TransactionID is unique across all divisions.
type Transaction struct {
	TransactionID int64           `json:"transaction_id"`
	Division      int             `json:"division"`
	TypeID        int64           `json:"type_id"`
	Quantity      int64           `json:"quantity"`
	IsBuy         bool            `json:"is_buy"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Date          time.Time       `json:"date"`
}

// WalletSnapshot maps division names to balances at one point in time.
type WalletSnapshot struct {
	Balances map[string]decimal.Decimal `json:"balances"`
	AsOf     time.Time                  `json:"as_of"`
}
