package esi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is one open market order.
type Order struct {
	OrderID      int64   `json:"order_id"`
	TypeID       int64   `json:"type_id"`
	Price        float64 `json:"price"`
	VolumeRemain int64   `json:"volume_remain"`
	IsBuyOrder   bool    `json:"is_buy_order"`
}

// HistoryDay is one daily market history aggregate.
type HistoryDay struct {
	Date       string  `json:"date"` // "2006-01-02"
	Average    float64 `json:"average"`
	Highest    float64 `json:"highest"`
	Lowest     float64 `json:"lowest"`
	OrderCount int64   `json:"order_count"`
	Volume     int64   `json:"volume"`
}

// Blueprint is one blueprint asset held by the corporation.
type Blueprint struct {
	ItemID   int64 `json:"item_id"`
	TypeID   int64 `json:"type_id"`
	Quantity int64 `json:"quantity"`
	Runs     int64 `json:"runs"`
}

// Skill is one trained character skill.
type Skill struct {
	SkillID          int64 `json:"skill_id"`
	ActiveSkillLevel int   `json:"active_skill_level"`
	TrainedLevel     int   `json:"trained_skill_level"`
}

type skillsResponse struct {
	Skills  []Skill `json:"skills"`
	TotalSP int64   `json:"total_sp"`
}

// Division is one wallet division of the corporation.
type Division struct {
	Division int    `json:"division"`
	Name     string `json:"name"`
}

type divisionsResponse struct {
	Wallet []Division `json:"wallet"`
}

// WalletBalance is the balance of one wallet division.
type WalletBalance struct {
	Division int             `json:"division"`
	Balance  decimal.Decimal `json:"balance"`
}

// WalletTransaction is one ledger row as reported by the upstream API,
// newest first, paginated backward via from_id.
type WalletTransaction struct {
	TransactionID int64           `json:"transaction_id"`
	TypeID        int64           `json:"type_id"`
	Quantity      int64           `json:"quantity"`
	IsBuy         bool            `json:"is_buy"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Date          time.Time       `json:"date"`
}

type characterResponse struct {
	CorporationID int64  `json:"corporation_id"`
	Name          string `json:"name"`
}

type verifyResponse struct {
	CharacterID int64  `json:"CharacterID"`
	Name        string `json:"CharacterName"`
}
