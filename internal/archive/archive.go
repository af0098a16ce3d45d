// Package archive writes fetched trades to S3 as parquet files,
// partitioned by symbol and day. The archive is a cold copy of the
// trades collection; losing a flush loses nothing the database does
// not already have.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"nobiflow/config"
	"nobiflow/internal/model"
	"nobiflow/logger"
)

// tradeRecord is the parquet row schema for one archived trade.
type tradeRecord struct {
	Symbol string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time   int64   `parquet:"name=time, type=INT64"`
	Price  float64 `parquet:"name=price, type=DOUBLE"`
	Volume float64 `parquet:"name=volume, type=DOUBLE"`
	Side   string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type uploader interface {
	upload(ctx context.Context, key string, data []byte) error
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) upload(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	return err
}

// Archiver buffers trades per symbol and flushes them to object storage
// when the buffer grows past maxRows or the flush interval elapses.
type Archiver struct {
	mu       sync.Mutex
	buffer   map[string][]model.Trade
	maxRows  int
	interval time.Duration
	up       uploader
	log      *logger.Log
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New builds an Archiver backed by S3.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	return newArchiver(&s3Uploader{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, cfg), nil
}

func newArchiver(up uploader, cfg config.ArchiveConfig) *Archiver {
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 50000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Archiver{
		buffer:   make(map[string][]model.Trade),
		maxRows:  maxRows,
		interval: interval,
		up:       up,
		log:      logger.GetLogger(),
	}
}

// Start launches the periodic flush worker.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("archiver already running")
	}
	a.running = true

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go a.flushWorker(runCtx)

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"flush_interval": a.interval.String(),
		"max_rows":       a.maxRows,
	}).Info("trade archive started")
	return nil
}

// Stop flushes remaining buffers and waits for the worker.
func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()
	a.flushAll(context.Background(), "shutdown")
	a.log.WithComponent("archive").Info("trade archive stopped")
}

func (a *Archiver) flushWorker(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flushAll(context.WithoutCancel(ctx), "interval")
		}
	}
}

// Archive appends a batch to the symbol's buffer, flushing it inline
// when the buffer crosses maxRows.
func (a *Archiver) Archive(ctx context.Context, symbol string, trades []model.Trade) error {
	a.mu.Lock()
	a.buffer[symbol] = append(a.buffer[symbol], trades...)
	var full []model.Trade
	if len(a.buffer[symbol]) >= a.maxRows {
		full = a.buffer[symbol]
		delete(a.buffer, symbol)
	}
	a.mu.Unlock()

	if full == nil {
		return nil
	}
	return a.flush(ctx, symbol, full, "max_rows")
}

func (a *Archiver) flushAll(ctx context.Context, reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]model.Trade)
	a.mu.Unlock()

	for symbol, trades := range buffers {
		if len(trades) == 0 {
			continue
		}
		if err := a.flush(ctx, symbol, trades, reason); err != nil {
			a.log.WithComponent("archive").WithError(err).WithFields(logger.Fields{
				"symbol": symbol,
			}).Error("flush failed, trades dropped from archive")
		}
	}
}

func (a *Archiver) flush(ctx context.Context, symbol string, trades []model.Trade, reason string) error {
	data, err := encodeParquet(trades)
	if err != nil {
		return fmt.Errorf("encode parquet: %w", err)
	}

	key := objectKey(symbol, time.Now().UTC())
	if err := a.up.upload(ctx, key, data); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"symbol":    symbol,
		"key":       key,
		"rows":      len(trades),
		"file_size": len(data),
		"reason":    reason,
	}).Info("trades archived")
	return nil
}

func objectKey(symbol string, now time.Time) string {
	return fmt.Sprintf("trades/symbol=%s/date=%s/%s.parquet",
		symbol, now.Format("2006-01-02"), uuid.New().String())
}

func encodeParquet(trades []model.Trade) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(tradeRecord), 1)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, t := range trades {
		rec := tradeRecord{
			Symbol: t.Symbol,
			Time:   t.Time.UnixMilli(),
			Price:  t.Price,
			Volume: t.Volume,
			Side:   t.Side,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return fw.Bytes(), nil
}
