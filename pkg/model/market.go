package model

// ProfitRecord is one entry of a profitability snapshot.
//
// ReturnTimeSeconds divides the blueprint's acquisition cost by the profit
// index (an ISK/day rate) and scales to seconds. The units are questionable
// but the formula is kept as-is for compatibility with the historical
// snapshots downstream dashboards were built on.
type ProfitRecord struct {
	ItemName          string  `json:"item_name"`
	ItemID            int64   `json:"item_id"`
	ProfitIndex       float64 `json:"profit_index"`
	SellPrice         float64 `json:"sell_price"`
	ProductionCost    float64 `json:"production_cost"`
	AvgVolume         float64 `json:"avg_volume"`
	BlueprintCost     float64 `json:"blueprint_cost"`
	ReturnTimeSeconds float64 `json:"return_time_seconds"`
}

// SoldAverage is the trailing average daily quantity sold of one item,
// aggregated from the ingested transaction ledger.
type SoldAverage struct {
	ItemID    int64   `json:"item_id"`
	ItemName  string  `json:"item_name"`
	AvgVolume float64 `json:"avg_volume"`
}
