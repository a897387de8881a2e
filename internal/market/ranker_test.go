package market

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/cache"
	"github.com/lumacorp/industry-exporter/internal/esi"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

type fakeCatalog struct {
	items []model.CatalogItem
}

func (f *fakeCatalog) Catalog() ([]model.CatalogItem, error) {
	return f.items, nil
}

type passthroughFilter struct{}

func (passthroughFilter) FilterMarket(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error) {
	return items, nil
}

func (passthroughFilter) FilterOwned(ctx context.Context, items []model.CatalogItem) ([]model.CatalogItem, error) {
	return items, nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func catalogItem(name string, blueprintID, typeID int64, materials ...model.Material) model.CatalogItem {
	return model.CatalogItem{
		BlueprintID: blueprintID,
		TypeID:      typeID,
		Name:        name,
		Materials:   materials,
	}
}

// priceAt registers a single sell order and a one-day history entry so the
// item yields index = (price - cost) * volume with windowDays=1.
func priceAt(api *fakeUpstream, typeID int64, price float64, volume int64) {
	api.orders[typeID] = []esi.Order{{Price: price}}
	api.history[typeID] = []esi.HistoryDay{{Date: "2024-01-02", Volume: volume}}
}

func newTestRanker(t *testing.T, api *fakeUpstream, items []model.CatalogItem, cfg Config) (*Service, *capturingPublisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewWithClient(rdb, zap.NewNop())

	oracle := newTestOracle(api, 1)
	pub := &capturingPublisher{}
	svc := NewService(zap.NewNop(), oracle, c, &fakeCatalog{items: items}, passthroughFilter{}, pub, cfg)
	return svc, pub
}

func defaultConfig() Config {
	return Config{
		MinProfitThreshold: 100,
		MaxRankSize:        50,
		Concurrency:        2,
		SnapshotTTL:        time.Hour,
	}
}

func TestRefresh_RanksDescendingByIndex(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 5)  // A: index 500
	priceAt(api, 201, 150, 10) // B: index 1500

	items := []model.CatalogItem{
		catalogItem("A", 100, 101),
		catalogItem("B", 200, 201),
	}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 2)
	assert.Equal(t, "B", records[0].ItemName)
	assert.Equal(t, 1500.0, records[0].ProfitIndex)
	assert.Equal(t, "A", records[1].ItemName)
	assert.Equal(t, 500.0, records[1].ProfitIndex)
}

func TestRefresh_MaterialCostsReduceIndex(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 10)
	api.orders[500] = []esi.Order{{Price: 5}}

	items := []model.CatalogItem{
		catalogItem("A", 100, 101, model.Material{TypeID: 500, Name: "Ore", Quantity: 4}),
	}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, 20.0, records[0].ProductionCost)
	assert.Equal(t, 800.0, records[0].ProfitIndex) // (100-20)*10
}

func TestRefresh_DropsBelowThreshold(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 10, 5)   // index 50, below threshold 100
	priceAt(api, 201, 150, 10) // index 1500

	items := []model.CatalogItem{
		catalogItem("A", 100, 101),
		catalogItem("B", 200, 201),
	}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "B", records[0].ItemName)
}

func TestRefresh_DropsNegativeMargin(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 10, 100)
	api.orders[500] = []esi.Order{{Price: 50}}

	items := []model.CatalogItem{
		catalogItem("A", 100, 101, model.Material{TypeID: 500, Name: "Ore", Quantity: 1}),
	}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, records)
}

func TestRefresh_DropsUnpriceableProduct(t *testing.T) {
	api := newFakeUpstream()
	api.history[101] = []esi.HistoryDay{{Date: "2024-01-02", Volume: 10}}
	// No sell orders for 101.

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, records)
}

func TestRefresh_DropsWithoutVolumeData(t *testing.T) {
	api := newFakeUpstream()
	api.orders[101] = []esi.Order{{Price: 100}}
	// No trade history for 101.

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, records)
}

func TestRefresh_TruncatesToMaxRankSize(t *testing.T) {
	api := newFakeUpstream()
	items := make([]model.CatalogItem, 0, 5)
	for i := int64(0); i < 5; i++ {
		typeID := 1000 + i*10
		priceAt(api, typeID, float64(100+i), 10)
		items = append(items, catalogItem("item", typeID-1, typeID))
	}

	cfg := defaultConfig()
	cfg.MaxRankSize = 3
	svc, _ := newTestRanker(t, api, items, cfg)
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i-1].ProfitIndex, records[i].ProfitIndex)
	}
}

func TestRefresh_BlueprintPriceYieldsReturnTime(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 5) // index 500
	api.orders[100] = []esi.Order{{Price: 1000}}

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, 1000.0, records[0].BlueprintCost)
	assert.InDelta(t, 1000.0/500.0*86400, records[0].ReturnTimeSeconds, 1e-9)
}

func TestRefresh_UnpricedBlueprintKeepsRecord(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 5)
	// Blueprint 100 has no sell orders.

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	records, ok, err := svc.Snapshot(ctx, SourceMarket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Zero(t, records[0].BlueprintCost)
	assert.Zero(t, records[0].ReturnTimeSeconds)
}

func TestRefresh_PublishesEvent(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 5)

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, pub := newTestRanker(t, api, items, defaultConfig())

	require.NoError(t, svc.Refresh(context.Background(), SourceMarket))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "evt.industry.snapshot.refreshed.v1", pub.subjects[0])
}

func TestSnapshot_MissingReturnsNotOK(t *testing.T) {
	api := newFakeUpstream()
	svc, _ := newTestRanker(t, api, nil, defaultConfig())

	_, ok, err := svc.Snapshot(context.Background(), SourceCorp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefresh_SourcesKeepSeparateSnapshots(t *testing.T) {
	api := newFakeUpstream()
	priceAt(api, 101, 100, 5)

	items := []model.CatalogItem{catalogItem("A", 100, 101)}
	svc, _ := newTestRanker(t, api, items, defaultConfig())
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx, SourceMarket))

	_, ok, err := svc.Snapshot(ctx, SourceCorp)
	require.NoError(t, err)
	assert.False(t, ok, "corp snapshot must not alias the market snapshot")
}
