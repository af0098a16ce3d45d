package model

import "time"

// PriceLevel is a single resting order level after normalization. The
// vendor reports price and amount as strings; by the time a PriceLevel
// exists both are finite non-negative numbers.
type PriceLevel struct {
	Price  float64 `bson:"price" json:"price"`
	Amount float64 `bson:"amount" json:"amount"`
}

// OrderBookSnapshot is the full set of resting bids and asks for one
// symbol at one moment. Each successful fetch wholly replaces the
// previous snapshot for the symbol.
type OrderBookSnapshot struct {
	Symbol         string       `bson:"symbol" json:"symbol"`
	Version        string       `bson:"version" json:"version"`
	LastUpdate     time.Time    `bson:"lastUpdate" json:"lastUpdate"`
	LastTradePrice float64      `bson:"lastTradePrice" json:"lastTradePrice"`
	Bids           []PriceLevel `bson:"bids" json:"bids"`
	Asks           []PriceLevel `bson:"asks" json:"asks"`
	FetchedAt      time.Time    `bson:"fetchedAt" json:"fetchedAt"`
}

// DepthSnapshot mirrors OrderBookSnapshot for the depth-chart endpoint.
type DepthSnapshot struct {
	Symbol         string       `bson:"symbol" json:"symbol"`
	LastUpdate     time.Time    `bson:"lastUpdate" json:"lastUpdate"`
	LastTradePrice float64      `bson:"lastTradePrice" json:"lastTradePrice"`
	Bids           []PriceLevel `bson:"bids" json:"bids"`
	Asks           []PriceLevel `bson:"asks" json:"asks"`
	FetchedAt      time.Time    `bson:"fetchedAt" json:"fetchedAt"`
}

// Trade is one executed trade. The tuple (symbol, time, price, volume,
// side) is the deduplication key; a trade is immutable once stored.
type Trade struct {
	Symbol string    `bson:"symbol" json:"symbol"`
	Time   time.Time `bson:"time" json:"time"`
	Price  float64   `bson:"price" json:"price"`
	Volume float64   `bson:"volume" json:"volume"`
	Side   string    `bson:"side" json:"side"`
}

// MarketStat is a periodic snapshot of aggregate statistics for one
// market pair, keyed by the vendor's pair identifier (e.g. "btc-rls").
type MarketStat struct {
	Symbol     string    `bson:"symbol" json:"symbol"`
	IsClosed   bool      `bson:"isClosed" json:"isClosed"`
	BestSell   float64   `bson:"bestSell" json:"bestSell"`
	BestBuy    float64   `bson:"bestBuy" json:"bestBuy"`
	VolumeSrc  float64   `bson:"volumeSrc" json:"volumeSrc"`
	VolumeDst  float64   `bson:"volumeDst" json:"volumeDst"`
	Latest     float64   `bson:"latest" json:"latest"`
	Mark       float64   `bson:"mark" json:"mark"`
	DayLow     float64   `bson:"dayLow" json:"dayLow"`
	DayHigh    float64   `bson:"dayHigh" json:"dayHigh"`
	DayOpen    float64   `bson:"dayOpen" json:"dayOpen"`
	DayClose   float64   `bson:"dayClose" json:"dayClose"`
	DayChange  float64   `bson:"dayChange" json:"dayChange"`
	LastUpdate time.Time `bson:"lastUpdate" json:"lastUpdate"`
}

// OHLCHistory is one resolution-bounded candle series for a symbol over
// the [From, To) window. The five value slices run parallel to Times and
// share its length; timestamps are strictly increasing.
type OHLCHistory struct {
	Symbol     string    `bson:"symbol" json:"symbol"`
	Resolution string    `bson:"resolution" json:"resolution"`
	From       time.Time `bson:"from" json:"from"`
	To         time.Time `bson:"to" json:"to"`
	Times      []int64   `bson:"times" json:"t"`
	Open       []float64 `bson:"open" json:"o"`
	High       []float64 `bson:"high" json:"h"`
	Low        []float64 `bson:"low" json:"l"`
	Close      []float64 `bson:"close" json:"c"`
	Volume     []float64 `bson:"volume" json:"v"`
	FetchedAt  time.Time `bson:"fetchedAt" json:"fetchedAt"`
}

// Candles reports the number of candles in the series.
func (h *OHLCHistory) Candles() int { return len(h.Times) }

// GlobalStats is the latest snapshot of global market metrics from the
// global-metrics provider.
type GlobalStats struct {
	Source                 string    `bson:"source" json:"source"`
	BTCDominance           float64   `bson:"btcDominance" json:"btcDominance"`
	ETHDominance           float64   `bson:"ethDominance" json:"ethDominance"`
	TotalMarketCap         float64   `bson:"totalMarketCap" json:"totalMarketCap"`
	TotalVolume24h         float64   `bson:"totalVolume24h" json:"totalVolume24h"`
	ActiveCryptocurrencies int       `bson:"activeCryptocurrencies" json:"activeCryptocurrencies"`
	ActiveMarketPairs      int       `bson:"activeMarketPairs" json:"activeMarketPairs"`
	LastUpdate             time.Time `bson:"lastUpdate" json:"lastUpdate"`
}

// TradeBatch is the result of one trades fetch: normalized trades plus
// the number of elements that failed normalization and were skipped.
type TradeBatch struct {
	Symbol    string
	Trades    []Trade
	Malformed int
}

// StatsBatch is the result of one market-stats fetch.
type StatsBatch struct {
	Stats     []MarketStat
	Malformed int
}
