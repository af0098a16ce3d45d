package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nobiflow/internal/model"
)

// LatestOrderBook returns the current snapshot for a symbol.
func (s *Store) LatestOrderBook(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var snap model.OrderBookSnapshot
	err := s.db.Collection(collOrderBooks).FindOne(opCtx, bson.M{"symbol": symbol}).Decode(&snap)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &snap, nil
}

// LatestDepth returns the current depth chart for a symbol.
func (s *Store) LatestDepth(ctx context.Context, symbol string) (*model.DepthSnapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var snap model.DepthSnapshot
	err := s.db.Collection(collDepths).FindOne(opCtx, bson.M{"symbol": symbol}).Decode(&snap)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &snap, nil
}

// RecentTrades returns up to limit trades for a symbol, newest first.
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "time", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.db.Collection(collTrades).Find(opCtx, bson.M{"symbol": symbol}, opts)
	if err != nil {
		return nil, mapReadErr(err)
	}
	defer cur.Close(opCtx)

	var trades []model.Trade
	if err := cur.All(opCtx, &trades); err != nil {
		return nil, mapReadErr(err)
	}
	if len(trades) == 0 {
		return nil, ErrNotFound
	}
	return trades, nil
}

// LatestMarketStat returns the newest statistics record for a pair.
// In history mode multiple records exist per symbol, so the newest by
// lastUpdate wins; in current mode there is at most one.
func (s *Store) LatestMarketStat(ctx context.Context, symbol string) (*model.MarketStat, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "lastUpdate", Value: -1}})
	var stat model.MarketStat
	err := s.db.Collection(collMarketStats).FindOne(opCtx, bson.M{"symbol": symbol}, opts).Decode(&stat)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &stat, nil
}

// OHLCWindow returns a stored candle series whose window fully contains
// [from, to] for the given symbol and resolution.
func (s *Store) OHLCWindow(ctx context.Context, symbol, resolution string, from, to time.Time) (*model.OHLCHistory, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	filter := bson.M{
		"symbol":     symbol,
		"resolution": resolution,
		"from":       bson.M{"$lte": from},
		"to":         bson.M{"$gte": to},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "to", Value: -1}})
	var hist model.OHLCHistory
	err := s.db.Collection(collOHLCHistory).FindOne(opCtx, filter, opts).Decode(&hist)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &hist, nil
}

// LatestGlobalStats returns the current global market snapshot.
func (s *Store) LatestGlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "lastUpdate", Value: -1}})
	var stats model.GlobalStats
	err := s.db.Collection(collGlobalStats).FindOne(opCtx, bson.M{}, opts).Decode(&stats)
	if err != nil {
		return nil, mapReadErr(err)
	}
	return &stats, nil
}

func mapReadErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
