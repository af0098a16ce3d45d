package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"nobiflow/config"
	"nobiflow/internal/model"
	"nobiflow/internal/ratebudget"
	"nobiflow/internal/scheduler"
	"nobiflow/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeReader struct {
	pingErr   error
	orderBook *model.OrderBookSnapshot
	trades    []model.Trade
	stat      *model.MarketStat
	hist      *model.OHLCHistory
	global    *model.GlobalStats

	statSymbol string
	histFrom   time.Time
	histTo     time.Time
}

func (f *fakeReader) Ping(context.Context) error { return f.pingErr }

func (f *fakeReader) LatestOrderBook(_ context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	if f.orderBook == nil || f.orderBook.Symbol != symbol {
		return nil, store.ErrNotFound
	}
	return f.orderBook, nil
}

func (f *fakeReader) LatestDepth(context.Context, string) (*model.DepthSnapshot, error) {
	return nil, store.ErrNotFound
}

func (f *fakeReader) RecentTrades(_ context.Context, _ string, limit int) ([]model.Trade, error) {
	if len(f.trades) == 0 {
		return nil, store.ErrNotFound
	}
	if limit < len(f.trades) {
		return f.trades[:limit], nil
	}
	return f.trades, nil
}

func (f *fakeReader) LatestMarketStat(_ context.Context, symbol string) (*model.MarketStat, error) {
	f.statSymbol = symbol
	if f.stat == nil {
		return nil, store.ErrNotFound
	}
	return f.stat, nil
}

func (f *fakeReader) OHLCWindow(_ context.Context, _, _ string, from, to time.Time) (*model.OHLCHistory, error) {
	f.histFrom, f.histTo = from, to
	if f.hist == nil {
		return nil, store.ErrNotFound
	}
	return f.hist, nil
}

func (f *fakeReader) LatestGlobalStats(context.Context) (*model.GlobalStats, error) {
	if f.global == nil {
		return nil, store.ErrNotFound
	}
	return f.global, nil
}

type fakeBudget struct{ usage map[string]ratebudget.Usage }

func (f *fakeBudget) Snapshot() map[string]ratebudget.Usage { return f.usage }

type fakeJobs struct{ statuses []scheduler.JobStatus }

func (f *fakeJobs) Snapshot() []scheduler.JobStatus { return f.statuses }

func testServer(reader *fakeReader, jobs []scheduler.JobStatus) *Server {
	return NewServer(config.APIConfig{Address: ":0", TradesLimit: 100},
		reader,
		&fakeBudget{usage: map[string]ratebudget.Usage{"orderbook": {Used: 3, Ceiling: 300}}},
		&fakeJobs{statuses: jobs})
}

func doRequest(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.router().ServeHTTP(w, req)
	return w
}

func TestOrderBookEndpoint(t *testing.T) {
	reader := &fakeReader{orderBook: &model.OrderBookSnapshot{
		Symbol:  "BTCIRT",
		Version: "v3",
		Asks:    []model.PriceLevel{{Price: 121000000, Amount: 0.3}},
	}}
	s := testServer(reader, nil)

	w := doRequest(s, "/api/orderbook/btcirt")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var snap model.OrderBookSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Symbol != "BTCIRT" || len(snap.Asks) != 1 || snap.Asks[0].Price != 121000000 {
		t.Fatalf("unexpected payload: %+v", snap)
	}
}

func TestOrderBookVersionFilter(t *testing.T) {
	reader := &fakeReader{orderBook: &model.OrderBookSnapshot{Symbol: "BTCIRT", Version: "v3"}}
	s := testServer(reader, nil)

	if w := doRequest(s, "/api/orderbook/BTCIRT?version=v3"); w.Code != http.StatusOK {
		t.Fatalf("matching version: status = %d, want 200", w.Code)
	}
	if w := doRequest(s, "/api/orderbook/BTCIRT?version=v2"); w.Code != http.StatusNotFound {
		t.Fatalf("other version: status = %d, want 404", w.Code)
	}
}

func TestOrderBookNotFound(t *testing.T) {
	s := testServer(&fakeReader{}, nil)
	if w := doRequest(s, "/api/orderbook/BTCIRT"); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestTradesLimitClamped(t *testing.T) {
	trades := make([]model.Trade, 200)
	for i := range trades {
		trades[i] = model.Trade{Symbol: "BTCIRT", Side: "buy"}
	}
	s := testServer(&fakeReader{trades: trades}, nil)

	w := doRequest(s, "/api/trades/BTCIRT?limit=500")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Trades []model.Trade `json:"trades"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Trades) != 100 {
		t.Fatalf("trades = %d, want the configured cap of 100", len(body.Trades))
	}
}

func TestTradesRejectsBadLimit(t *testing.T) {
	s := testServer(&fakeReader{}, nil)
	if w := doRequest(s, "/api/trades/BTCIRT?limit=zero"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMarketStatsPairKey(t *testing.T) {
	reader := &fakeReader{stat: &model.MarketStat{Symbol: "btc-rls", Latest: 121000000}}
	s := testServer(reader, nil)

	w := doRequest(s, "/api/market/stats?srcCurrency=BTC&dstCurrency=RLS")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if reader.statSymbol != "btc-rls" {
		t.Fatalf("queried symbol = %q, want btc-rls", reader.statSymbol)
	}
}

func TestMarketStatsRequiresBothCurrencies(t *testing.T) {
	s := testServer(&fakeReader{}, nil)
	if w := doRequest(s, "/api/market/stats?srcCurrency=btc"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestOHLCHistoryWindowParsing(t *testing.T) {
	reader := &fakeReader{hist: &model.OHLCHistory{Symbol: "BTCIRT", Resolution: "D"}}
	s := testServer(reader, nil)

	w := doRequest(s, "/api/udf/history?symbol=BTCIRT&resolution=D&from=1700000000&to=1700086400")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := reader.histFrom.Unix(); got != 1700000000 {
		t.Fatalf("from = %d, want 1700000000", got)
	}
	if got := reader.histTo.Unix(); got != 1700086400 {
		t.Fatalf("to = %d, want 1700086400", got)
	}
}

func TestOHLCHistoryRejectsInvertedWindow(t *testing.T) {
	s := testServer(&fakeReader{}, nil)
	w := doRequest(s, "/api/udf/history?symbol=BTCIRT&resolution=D&from=1700086400&to=1700000000")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBudgetEndpoint(t *testing.T) {
	s := testServer(&fakeReader{}, nil)
	w := doRequest(s, "/api/budget")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Window string                      `json:"window"`
		Usage  map[string]ratebudget.Usage `json:"usage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Window != "1m0s" || body.Usage["orderbook"].Ceiling != 300 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealthDegradedOnFailedJob(t *testing.T) {
	s := testServer(&fakeReader{}, []scheduler.JobStatus{
		{ID: "orderbook/BTCIRT", LastOutcome: scheduler.OutcomeSucceeded},
		{ID: "trades/BTCIRT", LastOutcome: scheduler.OutcomeFailed, LastError: "upstream unavailable"},
	})
	if w := doRequest(s, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHealthDegradedOnMongoPingFailure(t *testing.T) {
	s := testServer(&fakeReader{pingErr: errors.New("server selection timeout")}, nil)
	if w := doRequest(s, "/health"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHealthOK(t *testing.T) {
	s := testServer(&fakeReader{}, []scheduler.JobStatus{
		{ID: "orderbook/BTCIRT", LastOutcome: scheduler.OutcomeSucceeded},
	})
	if w := doRequest(s, "/health"); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
