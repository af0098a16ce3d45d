package model

// Resource identifies one category of fetchable market data.
type Resource string

const (
	ResourceOrderBook   Resource = "orderbook"
	ResourceDepth       Resource = "depth"
	ResourceTrades      Resource = "trades"
	ResourceMarketStats Resource = "market_stats"
	ResourceOHLCHistory Resource = "ohlc_history"
	ResourceGlobalStats Resource = "global_stats"
)

// SymbolResources lists the resources fetched once per configured symbol.
// The remaining resources are global and scheduled once per process.
var SymbolResources = []Resource{
	ResourceOrderBook,
	ResourceDepth,
	ResourceTrades,
	ResourceOHLCHistory,
}

// GlobalResources lists the resources scheduled without a symbol.
var GlobalResources = []Resource{
	ResourceMarketStats,
	ResourceGlobalStats,
}

func (r Resource) String() string { return string(r) }

// IsGlobal reports whether the resource is scheduled without a symbol.
func (r Resource) IsGlobal() bool {
	for _, g := range GlobalResources {
		if r == g {
			return true
		}
	}
	return false
}
