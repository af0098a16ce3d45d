package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"nobiflow/config"
	"nobiflow/internal/model"
	"nobiflow/logger"
)

// Pipeline applies the per-resource write strategies: replace-latest
// for point-in-time snapshots, append-with-dedup for time-series
// records. It is the single owner of the write-path invariants.
type Pipeline struct {
	backend   backend
	statsMode string
	opTimeout time.Duration
	log       *logger.Log
}

// NewPipeline builds the production pipeline on top of a connected
// Store.
func NewPipeline(s *Store, statsMode string) *Pipeline {
	return newPipeline(&mongoBackend{db: s.db}, statsMode, s.opTimeout)
}

func newPipeline(b backend, statsMode string, opTimeout time.Duration) *Pipeline {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &Pipeline{
		backend:   b,
		statsMode: statsMode,
		opTimeout: opTimeout,
		log:       logger.GetLogger(),
	}
}

// Persist dispatches a normalized record to its resource's write
// strategy.
func (p *Pipeline) Persist(ctx context.Context, resource model.Resource, record interface{}) error {
	switch r := record.(type) {
	case *model.OrderBookSnapshot:
		return p.PersistOrderBook(ctx, r)
	case *model.DepthSnapshot:
		return p.PersistDepth(ctx, r)
	case *model.TradeBatch:
		_, _, err := p.PersistTrades(ctx, r)
		return err
	case *model.StatsBatch:
		return p.PersistMarketStats(ctx, r)
	case *model.OHLCHistory:
		_, err := p.PersistOHLCHistory(ctx, r)
		return err
	case *model.GlobalStats:
		return p.PersistGlobalStats(ctx, r)
	default:
		return fmt.Errorf("no write strategy for resource %s (%T)", resource, record)
	}
}

// PersistOrderBook replaces the symbol's current snapshot wholesale.
func (p *Pipeline) PersistOrderBook(ctx context.Context, snap *model.OrderBookSnapshot) error {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	if err := p.backend.replaceLatest(opCtx, collOrderBooks, bson.M{"symbol": snap.Symbol}, snap); err != nil {
		return &PersistError{Collection: collOrderBooks, Err: err}
	}
	return nil
}

// PersistDepth replaces the symbol's current depth chart wholesale.
func (p *Pipeline) PersistDepth(ctx context.Context, snap *model.DepthSnapshot) error {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	if err := p.backend.replaceLatest(opCtx, collDepths, bson.M{"symbol": snap.Symbol}, snap); err != nil {
		return &PersistError{Collection: collDepths, Err: err}
	}
	return nil
}

// PersistTrades applies the append-with-dedup rule to every trade in
// the batch. Re-seeing a stored trade is normal: overlapping fetch
// windows re-deliver the same trades on every poll. Returns the number
// of newly inserted and duplicate trades.
func (p *Pipeline) PersistTrades(ctx context.Context, batch *model.TradeBatch) (inserted, duplicates int, err error) {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	for i := range batch.Trades {
		trade := &batch.Trades[i]
		key := bson.M{
			"symbol": trade.Symbol,
			"time":   trade.Time,
			"price":  trade.Price,
			"volume": trade.Volume,
			"side":   trade.Side,
		}
		fresh, err := p.backend.insertIfAbsent(opCtx, collTrades, key, trade)
		if err != nil {
			return inserted, duplicates, &PersistError{Collection: collTrades, Err: err}
		}
		if fresh {
			inserted++
		} else {
			duplicates++
		}
	}

	p.log.WithComponent("store").WithFields(logger.Fields{
		"symbol":     batch.Symbol,
		"inserted":   inserted,
		"duplicates": duplicates,
		"malformed":  batch.Malformed,
	}).Debug("trades persisted")
	return inserted, duplicates, nil
}

// PersistMarketStats writes each pair's statistics using the configured
// strategy: replace the current record, or append a history entry.
func (p *Pipeline) PersistMarketStats(ctx context.Context, batch *model.StatsBatch) error {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	for i := range batch.Stats {
		stat := &batch.Stats[i]
		var err error
		if p.statsMode == config.MarketStatsHistory {
			err = p.backend.insert(opCtx, collMarketStats, stat)
		} else {
			err = p.backend.replaceLatest(opCtx, collMarketStats, bson.M{"symbol": stat.Symbol}, stat)
		}
		if err != nil {
			return &PersistError{Collection: collMarketStats, Err: err}
		}
	}
	return nil
}

// PersistOHLCHistory stores one candle window unless the exact
// (symbol, resolution, from, to) window already exists. Reports whether
// the window was new.
func (p *Pipeline) PersistOHLCHistory(ctx context.Context, hist *model.OHLCHistory) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	key := bson.M{
		"symbol":     hist.Symbol,
		"resolution": hist.Resolution,
		"from":       hist.From,
		"to":         hist.To,
	}
	fresh, err := p.backend.insertIfAbsent(opCtx, collOHLCHistory, key, hist)
	if err != nil {
		return false, &PersistError{Collection: collOHLCHistory, Err: err}
	}
	return fresh, nil
}

// PersistGlobalStats replaces the provider's current global snapshot.
func (p *Pipeline) PersistGlobalStats(ctx context.Context, stats *model.GlobalStats) error {
	opCtx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	if err := p.backend.replaceLatest(opCtx, collGlobalStats, bson.M{"source": stats.Source}, stats); err != nil {
		return &PersistError{Collection: collGlobalStats, Err: err}
	}
	return nil
}
