// Package ingest connects the scheduler to the upstream client and the
// persistence pipeline: one Execute call performs one fetch-normalize-
// persist cycle for a job.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nobiflow/internal/fetcher"
	"nobiflow/internal/model"
	"nobiflow/internal/scheduler"
	"nobiflow/internal/store"
	"nobiflow/logger"
)

// TradeArchiver receives every freshly fetched trade batch for cold
// storage. Archiving is best effort and never fails a job.
type TradeArchiver interface {
	Archive(ctx context.Context, symbol string, trades []model.Trade) error
}

// Ingestor implements scheduler.Executor.
type Ingestor struct {
	client   *fetcher.Client
	pipeline *store.Pipeline
	archiver TradeArchiver
	statsSrc string
	statsDst string
	log      *logger.Log
}

func New(client *fetcher.Client, pipeline *store.Pipeline, symbols []string) *Ingestor {
	src, dst := currencyFilter(symbols)
	return &Ingestor{
		client:   client,
		pipeline: pipeline,
		statsSrc: src,
		statsDst: dst,
		log:      logger.GetLogger(),
	}
}

// WithArchiver attaches a trade archiver. Returns the receiver for
// call chaining at startup.
func (in *Ingestor) WithArchiver(a TradeArchiver) *Ingestor {
	in.archiver = a
	return in
}

// quoteCurrencies maps a symbol's quote suffix to the vendor's
// dstCurrency name. Nobitex quotes rial markets in rls.
var quoteCurrencies = []struct {
	suffix string
	dst    string
}{
	{"IRT", "rls"},
	{"USDT", "usdt"},
}

// currencyFilter derives the market-stats query filter from the
// configured symbols: the comma-joined source currencies plus the
// destination currency when every symbol shares one. Mixed quote
// currencies leave dst empty and the provider returns both sides.
func currencyFilter(symbols []string) (src, dst string) {
	var sources []string
	uniform := true
	for _, symbol := range symbols {
		for _, q := range quoteCurrencies {
			if !strings.HasSuffix(symbol, q.suffix) {
				continue
			}
			sources = append(sources, strings.ToLower(strings.TrimSuffix(symbol, q.suffix)))
			if dst == "" {
				dst = q.dst
			} else if dst != q.dst {
				uniform = false
			}
			break
		}
	}
	if !uniform {
		dst = ""
	}
	return strings.Join(sources, ","), dst
}

// Execute runs one fetch-and-persist cycle for the job.
func (in *Ingestor) Execute(ctx context.Context, job scheduler.Job) error {
	switch job.Resource {
	case model.ResourceOrderBook:
		return in.ingestOrderBook(ctx, job.Symbol)
	case model.ResourceDepth:
		return in.ingestDepth(ctx, job.Symbol)
	case model.ResourceTrades:
		return in.ingestTrades(ctx, job.Symbol)
	case model.ResourceMarketStats:
		return in.ingestMarketStats(ctx)
	case model.ResourceOHLCHistory:
		return in.ingestOHLCHistory(ctx, job.Symbol, job.Resolution, job.Lookback)
	case model.ResourceGlobalStats:
		return in.ingestGlobalStats(ctx)
	default:
		return fmt.Errorf("no ingest routine for resource %s", job.Resource)
	}
}

func (in *Ingestor) ingestOrderBook(ctx context.Context, symbol string) error {
	snap, err := in.client.FetchOrderBook(ctx, symbol)
	if err != nil {
		return err
	}
	if err := in.pipeline.PersistOrderBook(ctx, snap); err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceOrderBook.String(), len(snap.Bids)+len(snap.Asks))
	return nil
}

func (in *Ingestor) ingestDepth(ctx context.Context, symbol string) error {
	snap, err := in.client.FetchDepth(ctx, symbol)
	if err != nil {
		return err
	}
	if err := in.pipeline.PersistDepth(ctx, snap); err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceDepth.String(), len(snap.Bids)+len(snap.Asks))
	return nil
}

func (in *Ingestor) ingestTrades(ctx context.Context, symbol string) error {
	batch, err := in.client.FetchTrades(ctx, symbol)
	if err != nil {
		return err
	}
	inserted, _, err := in.pipeline.PersistTrades(ctx, batch)
	if err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceTrades.String(), inserted)
	in.log.LogMetric("ingest", "records_upserted", inserted, "count",
		logger.Fields{"resource": model.ResourceTrades.String()})

	if in.archiver != nil && len(batch.Trades) > 0 {
		if err := in.archiver.Archive(ctx, symbol, batch.Trades); err != nil {
			in.log.WithComponent("ingest").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Warn("trade archive write failed")
		}
	}
	return nil
}

func (in *Ingestor) ingestMarketStats(ctx context.Context) error {
	batch, err := in.client.FetchMarketStats(ctx, in.statsSrc, in.statsDst)
	if err != nil {
		return err
	}
	if err := in.pipeline.PersistMarketStats(ctx, batch); err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceMarketStats.String(), len(batch.Stats))
	return nil
}

func (in *Ingestor) ingestOHLCHistory(ctx context.Context, symbol, resolution string, lookback time.Duration) error {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	to := time.Now().UTC()
	from := to.Add(-lookback)

	hist, err := in.client.FetchOHLCHistory(ctx, symbol, resolution, from, to)
	if err != nil {
		return err
	}
	if hist.Candles() == 0 {
		in.log.WithComponent("ingest").WithFields(logger.Fields{
			"symbol":     symbol,
			"resolution": resolution,
		}).Debug("no candles in window")
		return nil
	}
	if _, err := in.pipeline.PersistOHLCHistory(ctx, hist); err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceOHLCHistory.String(), hist.Candles())
	return nil
}

func (in *Ingestor) ingestGlobalStats(ctx context.Context) error {
	stats, err := in.client.FetchGlobalStats(ctx)
	if err != nil {
		return err
	}
	if err := in.pipeline.PersistGlobalStats(ctx, stats); err != nil {
		return err
	}
	logger.RecordFetch(model.ResourceGlobalStats.String(), 1)
	return nil
}
