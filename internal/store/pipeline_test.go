package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"nobiflow/config"
	"nobiflow/internal/model"
)

// memoryBackend mimics the upsert semantics of the Mongo backend so
// the write strategies can be exercised without a running database.
type memoryBackend struct {
	latest  map[string]map[string]interface{} // coll -> key -> doc
	present map[string]map[string]interface{}
	rows    map[string][]interface{}
	failOn  string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		latest:  make(map[string]map[string]interface{}),
		present: make(map[string]map[string]interface{}),
		rows:    make(map[string][]interface{}),
	}
}

func keyString(key bson.M) string {
	fields := make([]string, 0, len(key))
	for k := range key {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	s := ""
	for _, k := range fields {
		s += fmt.Sprintf("%s=%v;", k, key[k])
	}
	return s
}

func (b *memoryBackend) replaceLatest(_ context.Context, coll string, key bson.M, doc interface{}) error {
	if coll == b.failOn {
		return errors.New("backend down")
	}
	if b.latest[coll] == nil {
		b.latest[coll] = make(map[string]interface{})
	}
	b.latest[coll][keyString(key)] = doc
	return nil
}

func (b *memoryBackend) insertIfAbsent(_ context.Context, coll string, key bson.M, doc interface{}) (bool, error) {
	if coll == b.failOn {
		return false, errors.New("backend down")
	}
	if b.present[coll] == nil {
		b.present[coll] = make(map[string]interface{})
	}
	k := keyString(key)
	if _, ok := b.present[coll][k]; ok {
		return false, nil
	}
	b.present[coll][k] = doc
	return true, nil
}

func (b *memoryBackend) insert(_ context.Context, coll string, doc interface{}) error {
	if coll == b.failOn {
		return errors.New("backend down")
	}
	b.rows[coll] = append(b.rows[coll], doc)
	return nil
}

func testTrade(symbol string, at time.Time, price, volume float64, side string) model.Trade {
	return model.Trade{Symbol: symbol, Time: at, Price: price, Volume: volume, Side: side}
}

func TestPersistTradesDedupAcrossOverlappingBatches(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	base := time.Unix(1700000000, 0).UTC()
	first := &model.TradeBatch{Symbol: "BTCIRT", Trades: []model.Trade{
		testTrade("BTCIRT", base, 121000000, 0.5, "buy"),
		testTrade("BTCIRT", base.Add(time.Second), 121100000, 0.2, "sell"),
	}}
	inserted, duplicates, err := p.PersistTrades(context.Background(), first)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if inserted != 2 || duplicates != 0 {
		t.Fatalf("first batch: inserted=%d duplicates=%d", inserted, duplicates)
	}

	// Overlapping window re-delivers one trade from the first batch.
	second := &model.TradeBatch{Symbol: "BTCIRT", Trades: []model.Trade{
		testTrade("BTCIRT", base.Add(time.Second), 121100000, 0.2, "sell"),
		testTrade("BTCIRT", base.Add(2*time.Second), 121200000, 0.1, "buy"),
	}}
	inserted, duplicates, err = p.PersistTrades(context.Background(), second)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if inserted != 1 || duplicates != 1 {
		t.Fatalf("second batch: inserted=%d duplicates=%d", inserted, duplicates)
	}
	if got := len(backend.present[collTrades]); got != 3 {
		t.Fatalf("stored trades = %d, want 3", got)
	}
}

func TestPersistTradesSameTupleStoredOnce(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	at := time.Unix(1700000100, 0).UTC()
	batch := &model.TradeBatch{Symbol: "ETHIRT", Trades: []model.Trade{
		testTrade("ETHIRT", at, 5000000, 1.0, "buy"),
		testTrade("ETHIRT", at, 5000000, 1.0, "buy"),
	}}
	inserted, duplicates, err := p.PersistTrades(context.Background(), batch)
	if err != nil {
		t.Fatalf("PersistTrades: %v", err)
	}
	if inserted != 1 || duplicates != 1 {
		t.Fatalf("inserted=%d duplicates=%d, want 1 and 1", inserted, duplicates)
	}
}

func TestPersistOrderBookKeepsOnlyNewestSnapshot(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	var last *model.OrderBookSnapshot
	for i := 0; i < 5; i++ {
		snap := &model.OrderBookSnapshot{
			Symbol:     "BTCIRT",
			Version:    "v3",
			LastUpdate: time.Unix(1700000000+int64(i), 0).UTC(),
			Bids:       []model.PriceLevel{{Price: 120000000 + float64(i), Amount: 0.5}},
		}
		if err := p.PersistOrderBook(context.Background(), snap); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
		last = snap
	}

	docs := backend.latest[collOrderBooks]
	if len(docs) != 1 {
		t.Fatalf("stored snapshots = %d, want 1", len(docs))
	}
	for _, doc := range docs {
		if doc.(*model.OrderBookSnapshot) != last {
			t.Fatal("stored snapshot is not the newest one")
		}
	}
}

func TestPersistOrderBookSymbolsDoNotCollide(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	for _, sym := range []string{"BTCIRT", "ETHIRT"} {
		snap := &model.OrderBookSnapshot{Symbol: sym, Version: "v3"}
		if err := p.PersistOrderBook(context.Background(), snap); err != nil {
			t.Fatalf("persist %s: %v", sym, err)
		}
	}
	if got := len(backend.latest[collOrderBooks]); got != 2 {
		t.Fatalf("stored snapshots = %d, want 2", got)
	}
}

func TestPersistMarketStatsModes(t *testing.T) {
	stat := model.MarketStat{Symbol: "BTCIRT", Latest: 121000000}
	batch := &model.StatsBatch{Stats: []model.MarketStat{stat, stat}}

	current := newMemoryBackend()
	p := newPipeline(current, config.MarketStatsCurrent, time.Second)
	if err := p.PersistMarketStats(context.Background(), batch); err != nil {
		t.Fatalf("current mode: %v", err)
	}
	if got := len(current.latest[collMarketStats]); got != 1 {
		t.Fatalf("current mode stored = %d, want 1", got)
	}

	history := newMemoryBackend()
	p = newPipeline(history, config.MarketStatsHistory, time.Second)
	if err := p.PersistMarketStats(context.Background(), batch); err != nil {
		t.Fatalf("history mode: %v", err)
	}
	if got := len(history.rows[collMarketStats]); got != 2 {
		t.Fatalf("history mode stored = %d, want 2", got)
	}
}

func TestPersistOHLCHistoryWindowDedup(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	from := time.Unix(1700000000, 0).UTC()
	hist := &model.OHLCHistory{
		Symbol: "BTCIRT", Resolution: "D", From: from, To: from.Add(24 * time.Hour),
		Times: []int64{1700000000}, Open: []float64{1}, High: []float64{2},
		Low: []float64{0.5}, Close: []float64{1.5}, Volume: []float64{10},
	}
	fresh, err := p.PersistOHLCHistory(context.Background(), hist)
	if err != nil || !fresh {
		t.Fatalf("first window: fresh=%v err=%v", fresh, err)
	}
	fresh, err = p.PersistOHLCHistory(context.Background(), hist)
	if err != nil || fresh {
		t.Fatalf("repeat window: fresh=%v err=%v", fresh, err)
	}

	other := *hist
	other.Resolution = "60"
	fresh, err = p.PersistOHLCHistory(context.Background(), &other)
	if err != nil || !fresh {
		t.Fatalf("other resolution: fresh=%v err=%v", fresh, err)
	}
}

func TestPersistGlobalStatsReplacesBySource(t *testing.T) {
	backend := newMemoryBackend()
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	for i := 0; i < 3; i++ {
		stats := &model.GlobalStats{Source: "coinmarketcap", BTCDominance: 50 + float64(i)}
		if err := p.PersistGlobalStats(context.Background(), stats); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}
	if got := len(backend.latest[collGlobalStats]); got != 1 {
		t.Fatalf("stored global stats = %d, want 1", got)
	}
}

func TestPersistErrorWrapsBackendFailure(t *testing.T) {
	backend := newMemoryBackend()
	backend.failOn = collTrades
	p := newPipeline(backend, config.MarketStatsCurrent, time.Second)

	batch := &model.TradeBatch{Symbol: "BTCIRT", Trades: []model.Trade{
		testTrade("BTCIRT", time.Unix(1700000000, 0).UTC(), 1, 1, "buy"),
	}}
	_, _, err := p.PersistTrades(context.Background(), batch)
	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistError", err)
	}
	if perr.Collection != collTrades {
		t.Fatalf("collection = %s, want %s", perr.Collection, collTrades)
	}
}

func TestPersistDispatchRejectsUnknownRecord(t *testing.T) {
	p := newPipeline(newMemoryBackend(), config.MarketStatsCurrent, time.Second)
	if err := p.Persist(context.Background(), model.ResourceOrderBook, struct{}{}); err == nil {
		t.Fatal("expected error for unknown record type")
	}
}
