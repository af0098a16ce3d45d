package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"nobiflow/internal/model"
	"nobiflow/logger"
)

const (
	orderBookVersion = "v3"
	sideBuy          = "buy"
	sideSell         = "sell"
)

// Raw vendor payload shapes. Numerics arrive as strings and timestamps as
// epoch values; they are normalized before leaving this package.

type orderBookPayload struct {
	Status         string     `json:"status"`
	LastUpdate     int64      `json:"lastUpdate"`
	LastTradePrice string     `json:"lastTradePrice"`
	Bids           [][]string `json:"bids"`
	Asks           [][]string `json:"asks"`
}

type tradePayload struct {
	Time   json.Number `json:"time"`
	Price  string      `json:"price"`
	Volume string      `json:"volume"`
	Type   string      `json:"type"`
}

type tradesPayload struct {
	Status string         `json:"status"`
	Trades []tradePayload `json:"trades"`
}

type statPayload struct {
	IsClosed  bool   `json:"isClosed"`
	BestSell  string `json:"bestSell"`
	BestBuy   string `json:"bestBuy"`
	VolumeSrc string `json:"volumeSrc"`
	VolumeDst string `json:"volumeDst"`
	Latest    string `json:"latest"`
	Mark      string `json:"mark"`
	DayLow    string `json:"dayLow"`
	DayHigh   string `json:"dayHigh"`
	DayOpen   string `json:"dayOpen"`
	DayClose  string `json:"dayClose"`
	DayChange string `json:"dayChange"`
}

type marketStatsPayload struct {
	Status string                 `json:"status"`
	Stats  map[string]statPayload `json:"stats"`
}

type udfPayload struct {
	Status string        `json:"s"`
	ErrMsg string        `json:"errmsg"`
	Times  []int64       `json:"t"`
	Open   []json.Number `json:"o"`
	High   []json.Number `json:"h"`
	Low    []json.Number `json:"l"`
	Close  []json.Number `json:"c"`
	Volume []json.Number `json:"v"`
}

// statusOK checks the vendor's embedded status field; anything but "ok"
// is a provider-reported failure even on HTTP 200.
func statusOK(resource, status string) error {
	if status == "ok" {
		return nil
	}
	return &RemoteError{Resource: resource, Code: status, Message: "provider reported non-ok status"}
}

// FetchOrderBook retrieves and normalizes the current order book for one
// symbol.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "required"}
	}

	var payload orderBookPayload
	path := fmt.Sprintf("/%s/orderbook/%s", orderBookVersion, symbol)
	if err := c.vendorGet(ctx, string(model.ResourceOrderBook), path, nil, &payload); err != nil {
		return nil, err
	}
	if err := statusOK(string(model.ResourceOrderBook), payload.Status); err != nil {
		return nil, err
	}

	bids, err := parseLevels("bids", payload.Bids)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceOrderBook), Field: "bids", Err: err}
	}
	asks, err := parseLevels("asks", payload.Asks)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceOrderBook), Field: "asks", Err: err}
	}
	lastTrade, err := parseAmount("lastTradePrice", payload.LastTradePrice)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceOrderBook), Field: "lastTradePrice", Value: payload.LastTradePrice, Err: err}
	}

	return &model.OrderBookSnapshot{
		Symbol:         symbol,
		Version:        orderBookVersion,
		LastUpdate:     timeFromMillis(payload.LastUpdate),
		LastTradePrice: lastTrade,
		Bids:           bids,
		Asks:           asks,
		FetchedAt:      time.Now().UTC(),
	}, nil
}

// FetchDepth retrieves and normalizes the depth chart for one symbol.
func (c *Client) FetchDepth(ctx context.Context, symbol string) (*model.DepthSnapshot, error) {
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "required"}
	}

	var payload orderBookPayload
	if err := c.vendorGet(ctx, string(model.ResourceDepth), "/v2/depth/"+symbol, nil, &payload); err != nil {
		return nil, err
	}
	if err := statusOK(string(model.ResourceDepth), payload.Status); err != nil {
		return nil, err
	}

	bids, err := parseLevels("bids", payload.Bids)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceDepth), Field: "bids", Err: err}
	}
	asks, err := parseLevels("asks", payload.Asks)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceDepth), Field: "asks", Err: err}
	}
	lastTrade, err := parseAmount("lastTradePrice", payload.LastTradePrice)
	if err != nil {
		return nil, &MalformedRecordError{Resource: string(model.ResourceDepth), Field: "lastTradePrice", Value: payload.LastTradePrice, Err: err}
	}

	return &model.DepthSnapshot{
		Symbol:         symbol,
		LastUpdate:     timeFromMillis(payload.LastUpdate),
		LastTradePrice: lastTrade,
		Bids:           bids,
		Asks:           asks,
		FetchedAt:      time.Now().UTC(),
	}, nil
}

// FetchTrades retrieves the recent trade list for one symbol. Malformed
// elements are skipped and counted; they never fail the batch.
func (c *Client) FetchTrades(ctx context.Context, symbol string) (*model.TradeBatch, error) {
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "required"}
	}

	var payload tradesPayload
	if err := c.vendorGet(ctx, string(model.ResourceTrades), "/v2/trades/"+symbol, nil, &payload); err != nil {
		return nil, err
	}
	if err := statusOK(string(model.ResourceTrades), payload.Status); err != nil {
		return nil, err
	}

	log := c.log.WithComponent("fetcher").WithFields(logger.Fields{"symbol": symbol})
	batch := &model.TradeBatch{Symbol: symbol, Trades: make([]model.Trade, 0, len(payload.Trades))}
	for _, raw := range payload.Trades {
		trade, err := normalizeTrade(symbol, raw)
		if err != nil {
			batch.Malformed++
			log.WithError(err).Warn("skipping malformed trade")
			continue
		}
		batch.Trades = append(batch.Trades, trade)
	}
	return batch, nil
}

func normalizeTrade(symbol string, raw tradePayload) (model.Trade, error) {
	ms, err := raw.Time.Int64()
	if err != nil || ms <= 0 {
		if err == nil {
			err = fmt.Errorf("non-positive epoch %d", ms)
		}
		return model.Trade{}, &MalformedRecordError{Resource: string(model.ResourceTrades), Field: "time", Value: raw.Time.String(), Err: err}
	}
	price, err := parseAmount("price", raw.Price)
	if err != nil {
		return model.Trade{}, &MalformedRecordError{Resource: string(model.ResourceTrades), Field: "price", Value: raw.Price, Err: err}
	}
	volume, err := parseAmount("volume", raw.Volume)
	if err != nil {
		return model.Trade{}, &MalformedRecordError{Resource: string(model.ResourceTrades), Field: "volume", Value: raw.Volume, Err: err}
	}
	side := strings.ToLower(raw.Type)
	if side != sideBuy && side != sideSell {
		return model.Trade{}, &MalformedRecordError{Resource: string(model.ResourceTrades), Field: "type", Value: raw.Type,
			Err: fmt.Errorf("expected buy or sell")}
	}
	return model.Trade{
		Symbol: symbol,
		Time:   timeFromMillis(ms),
		Price:  price,
		Volume: volume,
		Side:   side,
	}, nil
}

// FetchMarketStats retrieves market statistics. With empty currency
// filters the provider returns every pair; the caller filters to the
// pairs it tracks.
func (c *Client) FetchMarketStats(ctx context.Context, srcCurrencies, dstCurrency string) (*model.StatsBatch, error) {
	query := url.Values{}
	if srcCurrencies != "" {
		query.Set("srcCurrency", srcCurrencies)
	}
	if dstCurrency != "" {
		query.Set("dstCurrency", dstCurrency)
	}

	var payload marketStatsPayload
	if err := c.vendorGet(ctx, string(model.ResourceMarketStats), "/market/stats", query, &payload); err != nil {
		return nil, err
	}
	if err := statusOK(string(model.ResourceMarketStats), payload.Status); err != nil {
		return nil, err
	}

	log := c.log.WithComponent("fetcher")
	now := time.Now().UTC()
	batch := &model.StatsBatch{Stats: make([]model.MarketStat, 0, len(payload.Stats))}
	for pair, raw := range payload.Stats {
		stat, err := normalizeStat(pair, raw, now)
		if err != nil {
			batch.Malformed++
			log.WithFields(logger.Fields{"pair": pair}).WithError(err).Warn("skipping malformed market stat")
			continue
		}
		batch.Stats = append(batch.Stats, stat)
	}
	return batch, nil
}

func normalizeStat(pair string, raw statPayload, now time.Time) (model.MarketStat, error) {
	stat := model.MarketStat{Symbol: pair, IsClosed: raw.IsClosed, LastUpdate: now}

	fields := []struct {
		name   string
		value  string
		target *float64
		signed bool
	}{
		{"bestSell", raw.BestSell, &stat.BestSell, false},
		{"bestBuy", raw.BestBuy, &stat.BestBuy, false},
		{"volumeSrc", raw.VolumeSrc, &stat.VolumeSrc, false},
		{"volumeDst", raw.VolumeDst, &stat.VolumeDst, false},
		{"latest", raw.Latest, &stat.Latest, false},
		{"mark", raw.Mark, &stat.Mark, false},
		{"dayLow", raw.DayLow, &stat.DayLow, false},
		{"dayHigh", raw.DayHigh, &stat.DayHigh, false},
		{"dayOpen", raw.DayOpen, &stat.DayOpen, false},
		{"dayClose", raw.DayClose, &stat.DayClose, false},
		{"dayChange", raw.DayChange, &stat.DayChange, true},
	}
	for _, f := range fields {
		var (
			v   float64
			err error
		)
		if f.signed {
			v, err = parseNumber(f.name, f.value)
		} else {
			v, err = parseAmount(f.name, f.value)
		}
		if err != nil {
			return model.MarketStat{}, &MalformedRecordError{Resource: string(model.ResourceMarketStats), Field: f.name, Value: f.value, Err: err}
		}
		*f.target = v
	}
	return stat, nil
}

// FetchOHLCHistory retrieves one candle series in the vendor's UDF
// format. The window parameters are required; from must precede to.
func (c *Client) FetchOHLCHistory(ctx context.Context, symbol, resolution string, from, to time.Time) (*model.OHLCHistory, error) {
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "required"}
	}
	if resolution == "" {
		return nil, &ValidationError{Field: "resolution", Reason: "required"}
	}
	if from.IsZero() || to.IsZero() {
		return nil, &ValidationError{Field: "from/to", Reason: "required"}
	}
	if !from.Before(to) {
		return nil, &ValidationError{Field: "from/to", Reason: "from must precede to"}
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("resolution", resolution)
	query.Set("from", fmt.Sprintf("%d", from.Unix()))
	query.Set("to", fmt.Sprintf("%d", to.Unix()))

	var payload udfPayload
	if err := c.vendorGet(ctx, string(model.ResourceOHLCHistory), "/market/udf/history", query, &payload); err != nil {
		return nil, err
	}

	switch payload.Status {
	case "ok":
	case "no_data":
		// An empty window is a valid answer, not a failure.
		return &model.OHLCHistory{
			Symbol: symbol, Resolution: resolution,
			From: from.UTC(), To: to.UTC(),
			Times: []int64{}, Open: []float64{}, High: []float64{},
			Low: []float64{}, Close: []float64{}, Volume: []float64{},
			FetchedAt: time.Now().UTC(),
		}, nil
	default:
		return nil, &RemoteError{Resource: string(model.ResourceOHLCHistory), Code: payload.Status, Message: payload.ErrMsg}
	}

	return normalizeHistory(symbol, resolution, from, to, payload)
}

func normalizeHistory(symbol, resolution string, from, to time.Time, payload udfPayload) (*model.OHLCHistory, error) {
	n := len(payload.Times)
	if len(payload.Open) != n || len(payload.High) != n || len(payload.Low) != n ||
		len(payload.Close) != n || len(payload.Volume) != n {
		return nil, &MalformedRecordError{Resource: string(model.ResourceOHLCHistory), Field: "series",
			Err: fmt.Errorf("series lengths differ: t=%d o=%d h=%d l=%d c=%d v=%d",
				n, len(payload.Open), len(payload.High), len(payload.Low), len(payload.Close), len(payload.Volume))}
	}

	hist := &model.OHLCHistory{
		Symbol:     symbol,
		Resolution: resolution,
		From:       from.UTC(),
		To:         to.UTC(),
		Times:      make([]int64, 0, n),
		Open:       make([]float64, 0, n),
		High:       make([]float64, 0, n),
		Low:        make([]float64, 0, n),
		Close:      make([]float64, 0, n),
		Volume:     make([]float64, 0, n),
		FetchedAt:  time.Now().UTC(),
	}

	var prev int64
	for i := 0; i < n; i++ {
		t := payload.Times[i]
		if t <= prev {
			return nil, &MalformedRecordError{Resource: string(model.ResourceOHLCHistory), Field: "t",
				Value: fmt.Sprintf("%d", t), Err: fmt.Errorf("timestamps not strictly increasing at index %d", i)}
		}
		prev = t

		vals := make([]float64, 5)
		for j, num := range []json.Number{payload.Open[i], payload.High[i], payload.Low[i], payload.Close[i], payload.Volume[i]} {
			v, err := parseAmount("candle", num.String())
			if err != nil {
				return nil, &MalformedRecordError{Resource: string(model.ResourceOHLCHistory), Field: "candle",
					Value: num.String(), Err: err}
			}
			vals[j] = v
		}

		hist.Times = append(hist.Times, t)
		hist.Open = append(hist.Open, vals[0])
		hist.High = append(hist.High, vals[1])
		hist.Low = append(hist.Low, vals[2])
		hist.Close = append(hist.Close, vals[3])
		hist.Volume = append(hist.Volume, vals[4])
	}
	return hist, nil
}
