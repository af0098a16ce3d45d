package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"nobiflow/config"
	"nobiflow/internal/api"
	"nobiflow/internal/archive"
	"nobiflow/internal/fetcher"
	"nobiflow/internal/ingest"
	"nobiflow/internal/model"
	"nobiflow/internal/ratebudget"
	"nobiflow/internal/scheduler"
	"nobiflow/internal/store"
	"nobiflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath, "config/config.yml"))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Nobiflow.Name,
		"version": cfg.Nobiflow.Version,
		"symbols": strings.Join(cfg.Symbols, ","),
	}).Info("starting nobiflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	st, err := store.Connect(ctx, cfg.Mongo)
	if err != nil {
		log.WithError(err).Error("failed to connect to mongodb")
		os.Exit(1)
	}
	if err := st.EnsureIndexes(ctx, cfg.Persistence.MarketStats); err != nil {
		log.WithError(err).Error("failed to create indexes")
		os.Exit(1)
	}

	client := fetcher.NewClient(cfg.Upstream)
	pipeline := store.NewPipeline(st, cfg.Persistence.MarketStats)
	ingestor := ingest.New(client, pipeline, cfg.Symbols)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		archiver, err = archive.New(ctx, cfg.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create trade archive")
			os.Exit(1)
		}
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start trade archive")
			os.Exit(1)
		}
		ingestor.WithArchiver(archiver)
	} else {
		log.WithComponent("main").Info("trade archive disabled")
	}

	ceilings := make(map[model.Resource]int, len(cfg.Scheduler.Resources))
	for name, rc := range cfg.Scheduler.Resources {
		ceilings[model.Resource(name)] = rc.Ceiling
	}
	tracker := ratebudget.NewTracker(ceilings)
	if err := tracker.Start(); err != nil {
		log.WithError(err).Error("failed to start rate budget tracker")
		os.Exit(1)
	}

	jobs := scheduler.BuildJobs(cfg)
	sched := scheduler.New(cfg.Scheduler, jobs, ingestor, tracker)
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start scheduler")
		os.Exit(1)
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API, st, tracker, sched)
		server.Start()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	// Stop the scheduler before cancelling the root context, so
	// in-flight fetches can finish within the grace period.
	sched.Stop()
	cancel()

	tracker.Stop()
	if archiver != nil {
		archiver.Stop()
	}
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("api shutdown incomplete")
		}
		shutdownCancel()
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := st.Close(closeCtx); err != nil {
		log.WithError(err).Warn("mongodb disconnect failed")
	}
	closeCancel()

	log.Info("nobiflow stopped")
}
