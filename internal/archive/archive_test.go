package archive

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"nobiflow/config"
	"nobiflow/internal/model"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{objects: make(map[string][]byte)}
}

func (f *fakeUploader) upload(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeUploader) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys
}

func someTrades(symbol string, n int) []model.Trade {
	trades := make([]model.Trade, n)
	base := time.Unix(1700000000, 0).UTC()
	for i := range trades {
		trades[i] = model.Trade{
			Symbol: symbol,
			Time:   base.Add(time.Duration(i) * time.Second),
			Price:  121000000,
			Volume: 0.1,
			Side:   "buy",
		}
	}
	return trades
}

func TestArchiveBuffersUntilMaxRows(t *testing.T) {
	up := newFakeUploader()
	a := newArchiver(up, config.ArchiveConfig{MaxRows: 10, FlushInterval: time.Hour})

	if err := a.Archive(context.Background(), "BTCIRT", someTrades("BTCIRT", 5)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(up.keys()) != 0 {
		t.Fatal("flushed before reaching max rows")
	}

	if err := a.Archive(context.Background(), "BTCIRT", someTrades("BTCIRT", 5)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	keys := up.keys()
	if len(keys) != 1 {
		t.Fatalf("objects = %d, want 1 after crossing max rows", len(keys))
	}
	if !strings.HasPrefix(keys[0], "trades/symbol=BTCIRT/date=") || !strings.HasSuffix(keys[0], ".parquet") {
		t.Fatalf("unexpected object key %q", keys[0])
	}
	if len(up.objects[keys[0]]) == 0 {
		t.Fatal("uploaded object is empty")
	}
}

func TestArchiveKeepsSymbolsSeparate(t *testing.T) {
	up := newFakeUploader()
	a := newArchiver(up, config.ArchiveConfig{MaxRows: 10, FlushInterval: time.Hour})

	if err := a.Archive(context.Background(), "BTCIRT", someTrades("BTCIRT", 10)); err != nil {
		t.Fatalf("Archive BTCIRT: %v", err)
	}
	if err := a.Archive(context.Background(), "ETHIRT", someTrades("ETHIRT", 3)); err != nil {
		t.Fatalf("Archive ETHIRT: %v", err)
	}

	keys := up.keys()
	if len(keys) != 1 {
		t.Fatalf("objects = %d, want only the full BTCIRT buffer flushed", len(keys))
	}
	if !strings.Contains(keys[0], "symbol=BTCIRT") {
		t.Fatalf("unexpected object key %q", keys[0])
	}
}

func TestStopFlushesRemainder(t *testing.T) {
	up := newFakeUploader()
	a := newArchiver(up, config.ArchiveConfig{MaxRows: 100, FlushInterval: time.Hour})
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := a.Archive(context.Background(), "DOGEIRT", someTrades("DOGEIRT", 7)); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	a.Stop()

	keys := up.keys()
	if len(keys) != 1 || !strings.Contains(keys[0], "symbol=DOGEIRT") {
		t.Fatalf("objects after stop = %v, want one DOGEIRT file", keys)
	}
}
