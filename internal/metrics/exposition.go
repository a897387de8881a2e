package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lumacorp/industry-exporter/pkg/model"
)

// Consumer-facing gauges. The value carries the metric, labels identify the
// series; every scrape resets and repopulates them from the current snapshots
// so that items dropped from a snapshot stop being emitted.
var itemLabels = []string{"item_id", "item_name", "source"}

var (
	ProfitIndexGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_profit_index", Help: "Profit index per item."},
		itemLabels,
	)
	SellPriceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_sell_price", Help: "Lowest sell price per item."},
		itemLabels,
	)
	ProductionCostGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_production_cost", Help: "Production cost per item."},
		itemLabels,
	)
	AvgVolumeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_avg_volume", Help: "Average daily traded volume per item."},
		itemLabels,
	)
	BlueprintCostGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_blueprint_cost", Help: "Blueprint acquisition cost per item."},
		itemLabels,
	)
	ReturnTimeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_item_return_time_seconds", Help: "Blueprint recoup time per item (seconds)."},
		itemLabels,
	)

	WalletBalanceGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_wallet_balance", Help: "Wallet balance per division."},
		[]string{"division"},
	)

	SoldVolumeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "esi_corp_avg_sold_volume", Help: "Average daily quantity sold per item, from the ingested ledger."},
		[]string{"item_id", "item_name"},
	)
)

// ResetExposition clears all consumer gauges ahead of repopulation.
func ResetExposition() {
	ProfitIndexGauge.Reset()
	SellPriceGauge.Reset()
	ProductionCostGauge.Reset()
	AvgVolumeGauge.Reset()
	BlueprintCostGauge.Reset()
	ReturnTimeGauge.Reset()
	WalletBalanceGauge.Reset()
	SoldVolumeGauge.Reset()
}

// PublishProfitRecords sets the per-item gauges for one snapshot source
// ("market" or "corp").
func PublishProfitRecords(records []model.ProfitRecord, source string) {
	for _, rec := range records {
		id := formatID(rec.ItemID)
		ProfitIndexGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.ProfitIndex)
		SellPriceGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.SellPrice)
		ProductionCostGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.ProductionCost)
		AvgVolumeGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.AvgVolume)
		BlueprintCostGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.BlueprintCost)
		ReturnTimeGauge.WithLabelValues(id, rec.ItemName, source).Set(rec.ReturnTimeSeconds)
	}
}

// PublishWallet sets the per-division balance gauges.
func PublishWallet(snapshot model.WalletSnapshot) {
	for division, balance := range snapshot.Balances {
		WalletBalanceGauge.WithLabelValues(division).Set(balance.InexactFloat64())
	}
}

// PublishSoldAverages sets the ledger-derived sold volume gauges.
func PublishSoldAverages(averages []model.SoldAverage) {
	for _, avg := range averages {
		SoldVolumeGauge.WithLabelValues(formatID(avg.ItemID), avg.ItemName).Set(avg.AvgVolume)
	}
}
