package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"nobiflow/config"
	"nobiflow/logger"
)

// Collection names, one logical collection per entity.
const (
	collOrderBooks  = "orderbooks"
	collDepths      = "depths"
	collTrades      = "trades"
	collMarketStats = "market_stats"
	collOHLCHistory = "ohlc_history"
	collGlobalStats = "global_stats"
)

// Store owns the MongoDB connection and collection handles. The
// document store provides the atomicity for concurrent upserts; no
// additional locking happens here.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
	log       *logger.Log
}

// Connect establishes the MongoDB connection and verifies it with a
// ping inside the configured connect timeout.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	log := logger.GetLogger()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	log.WithComponent("store").WithFields(logger.Fields{"database": cfg.Database}).Info("connected to mongodb")

	return &Store{
		client:    client,
		db:        client.Database(cfg.Database),
		opTimeout: cfg.OperationTimeout,
		log:       log,
	}, nil
}

// EnsureIndexes creates the uniqueness and lookup indexes the write
// strategies depend on. Must run before the scheduler starts: the
// append-with-dedup path relies on the unique keys existing.
func (s *Store) EnsureIndexes(ctx context.Context, statsMode string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	unique := options.Index().SetUnique(true)

	indexes := map[string][]mongo.IndexModel{
		collOrderBooks: {
			{Keys: bson.D{{Key: "symbol", Value: 1}}, Options: unique},
		},
		collDepths: {
			{Keys: bson.D{{Key: "symbol", Value: 1}}, Options: unique},
		},
		collTrades: {
			{Keys: bson.D{
				{Key: "symbol", Value: 1},
				{Key: "time", Value: 1},
				{Key: "price", Value: 1},
				{Key: "volume", Value: 1},
				{Key: "side", Value: 1},
			}, Options: unique},
			{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "time", Value: -1}}},
		},
		collOHLCHistory: {
			{Keys: bson.D{
				{Key: "symbol", Value: 1},
				{Key: "resolution", Value: 1},
				{Key: "from", Value: 1},
				{Key: "to", Value: 1},
			}, Options: unique},
		},
		collGlobalStats: {
			{Keys: bson.D{{Key: "source", Value: 1}}, Options: unique},
		},
	}

	// In history mode market stats accumulate, so the symbol key must
	// not be unique.
	if statsMode == config.MarketStatsHistory {
		indexes[collMarketStats] = []mongo.IndexModel{
			{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "lastUpdate", Value: -1}}},
		}
	} else {
		indexes[collMarketStats] = []mongo.IndexModel{
			{Keys: bson.D{{Key: "symbol", Value: 1}}, Options: unique},
		}
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(opCtx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}

	s.log.WithComponent("store").Info("indexes ensured")
	return nil
}

// Ping reports connection health for the /health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.client.Ping(opCtx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// backend is the narrow write surface the upsert pipeline needs. The
// mongo implementation maps it onto atomic upsert-by-key operations.
type backend interface {
	// replaceLatest upserts doc as the single record matching key.
	replaceLatest(ctx context.Context, coll string, key bson.M, doc interface{}) error
	// insertIfAbsent writes doc unless a record with key already
	// exists. Reports whether a new record was inserted.
	insertIfAbsent(ctx context.Context, coll string, key bson.M, doc interface{}) (bool, error)
	// insert appends doc unconditionally.
	insert(ctx context.Context, coll string, doc interface{}) error
}

type mongoBackend struct {
	db *mongo.Database
}

func (b *mongoBackend) replaceLatest(ctx context.Context, coll string, key bson.M, doc interface{}) error {
	_, err := b.db.Collection(coll).ReplaceOne(ctx, key, doc, options.Replace().SetUpsert(true))
	return err
}

func (b *mongoBackend) insertIfAbsent(ctx context.Context, coll string, key bson.M, doc interface{}) (bool, error) {
	res, err := b.db.Collection(coll).UpdateOne(ctx, key,
		bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		// Two concurrent upserts for the same key can race past the
		// match; the unique index turns the loser into a duplicate,
		// which is a no-op for us.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (b *mongoBackend) insert(ctx context.Context, coll string, doc interface{}) error {
	_, err := b.db.Collection(coll).InsertOne(ctx, doc)
	return err
}
