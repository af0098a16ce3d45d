// Package api serves the read side: the latest persisted record per
// resource, process health, and the current rate-budget usage.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nobiflow/config"
	"nobiflow/internal/model"
	"nobiflow/internal/ratebudget"
	"nobiflow/internal/scheduler"
	"nobiflow/internal/store"
	"nobiflow/logger"
)

// Reader is the slice of the store the API depends on.
type Reader interface {
	Ping(ctx context.Context) error
	LatestOrderBook(ctx context.Context, symbol string) (*model.OrderBookSnapshot, error)
	LatestDepth(ctx context.Context, symbol string) (*model.DepthSnapshot, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error)
	LatestMarketStat(ctx context.Context, symbol string) (*model.MarketStat, error)
	OHLCWindow(ctx context.Context, symbol, resolution string, from, to time.Time) (*model.OHLCHistory, error)
	LatestGlobalStats(ctx context.Context) (*model.GlobalStats, error)
}

// BudgetReporter exposes the current window's per-resource usage.
type BudgetReporter interface {
	Snapshot() map[string]ratebudget.Usage
}

// JobReporter exposes the scheduler's job states for the health view.
type JobReporter interface {
	Snapshot() []scheduler.JobStatus
}

type Server struct {
	cfg    config.APIConfig
	reader Reader
	budget BudgetReporter
	jobs   JobReporter
	srv    *http.Server
	log    *logger.Log
}

func NewServer(cfg config.APIConfig, reader Reader, budget BudgetReporter, jobs JobReporter) *Server {
	s := &Server{
		cfg:    cfg,
		reader: reader,
		budget: budget,
		jobs:   jobs,
		log:    logger.GetLogger(),
	}
	s.srv = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	if !s.cfg.EnableGinLogs || config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if s.cfg.EnableGinLogs && !config.IsProduction() {
		engine.Use(gin.Logger())
	}

	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api")
	api.GET("/orderbook/:symbol", s.handleOrderBook)
	api.GET("/depth/:symbol", s.handleDepth)
	api.GET("/trades/:symbol", s.handleTrades)
	api.GET("/market/stats", s.handleMarketStats)
	api.GET("/udf/history", s.handleOHLCHistory)
	api.GET("/global/stats", s.handleGlobalStats)
	api.GET("/budget", s.handleBudget)

	return engine
}

// Start begins serving in the background. Listen errors other than a
// clean shutdown are logged and terminate the listener goroutine.
func (s *Server) Start() {
	go func() {
		s.log.WithComponent("api").WithFields(logger.Fields{
			"address": s.cfg.Address,
		}).Info("api listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("api").WithError(err).Error("api server stopped")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func symbolParam(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return "", false
	}
	return symbol, true
}

func (s *Server) respond(c *gin.Context, record interface{}, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no record yet"})
	case err != nil:
		s.log.WithComponent("api").WithError(err).Error("read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, record)
	}
}

func (s *Server) handleOrderBook(c *gin.Context) {
	symbol, ok := symbolParam(c)
	if !ok {
		return
	}
	snap, err := s.reader.LatestOrderBook(c.Request.Context(), symbol)
	if err == nil {
		if want := strings.TrimSpace(c.Query("version")); want != "" && want != snap.Version {
			err = store.ErrNotFound
		}
	}
	s.respond(c, snap, err)
}

func (s *Server) handleDepth(c *gin.Context) {
	symbol, ok := symbolParam(c)
	if !ok {
		return
	}
	snap, err := s.reader.LatestDepth(c.Request.Context(), symbol)
	s.respond(c, snap, err)
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol, ok := symbolParam(c)
	if !ok {
		return
	}
	limit := s.cfg.TradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if s.cfg.TradesLimit > 0 && n > s.cfg.TradesLimit {
			n = s.cfg.TradesLimit
		}
		limit = n
	}
	trades, err := s.reader.RecentTrades(c.Request.Context(), symbol, limit)
	s.respond(c, gin.H{"symbol": symbol, "trades": trades}, err)
}

// handleMarketStats resolves the vendor pair key from the srcCurrency
// and dstCurrency query parameters, mirroring the upstream query shape.
func (s *Server) handleMarketStats(c *gin.Context) {
	src := strings.ToLower(strings.TrimSpace(c.Query("srcCurrency")))
	dst := strings.ToLower(strings.TrimSpace(c.Query("dstCurrency")))
	if src == "" || dst == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "srcCurrency and dstCurrency are required"})
		return
	}
	stat, err := s.reader.LatestMarketStat(c.Request.Context(), fmt.Sprintf("%s-%s", src, dst))
	s.respond(c, stat, err)
}

func (s *Server) handleOHLCHistory(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	resolution := strings.TrimSpace(c.Query("resolution"))
	from, errFrom := strconv.ParseInt(c.Query("from"), 10, 64)
	to, errTo := strconv.ParseInt(c.Query("to"), 10, 64)
	if symbol == "" || resolution == "" || errFrom != nil || errTo != nil || from >= to {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "symbol, resolution and an epoch-second window from < to are required",
		})
		return
	}
	hist, err := s.reader.OHLCWindow(c.Request.Context(), symbol, resolution,
		time.Unix(from, 0).UTC(), time.Unix(to, 0).UTC())
	s.respond(c, hist, err)
}

func (s *Server) handleGlobalStats(c *gin.Context) {
	stats, err := s.reader.LatestGlobalStats(c.Request.Context())
	s.respond(c, stats, err)
}

func (s *Server) handleBudget(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"window": ratebudget.WindowDuration.String(),
		"usage":  s.budget.Snapshot(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	statuses := s.jobs.Snapshot()
	code := http.StatusOK
	status := "ok"
	mongoState := "ok"

	if err := s.reader.Ping(c.Request.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status = "degraded"
		mongoState = err.Error()
	}
	for _, st := range statuses {
		if st.LastOutcome == scheduler.OutcomeFailed {
			code = http.StatusServiceUnavailable
			status = "degraded"
			break
		}
	}
	c.JSON(code, gin.H{
		"status": status,
		"mongo":  mongoState,
		"time":   time.Now().UTC(),
		"jobs":   statuses,
	})
}
