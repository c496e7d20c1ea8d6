package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"daoharvest/internal/chain"
	"daoharvest/internal/collect"
	"daoharvest/internal/config"
	"daoharvest/internal/cursor"
	"daoharvest/internal/dataset"
	"daoharvest/internal/dataset/postgres"
	"daoharvest/internal/etherscan"
	"daoharvest/internal/fault"
	"daoharvest/internal/httpx"
	"daoharvest/internal/model"
)

func main() {
	root := &cobra.Command{
		Use:          "harvester",
		Short:        "DAO contract ABI and event harvester",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one collection pass over the configured DAOs",
		RunE:  runHarvest,
	}

	runCmd.Flags().String("etherscan-api-key", "", "Etherscan API key")
	runCmd.Flags().String("alchemy-api-key", "", "Alchemy API key")
	runCmd.Flags().String("network", "mainnet", "network (mainnet, goerli, sepolia)")
	runCmd.Flags().String("dao-config", "./daos.json", "DAO config file path")
	runCmd.Flags().String("data-dir", "./data", "output data directory")
	runCmd.Flags().String("pg-dsn", "", "optional Postgres DSN to mirror records into")
	runCmd.Flags().Int("workers", 4, "contracts processed concurrently")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per event query")
	runCmd.Flags().Float64("etherscan-rps", 5, "Etherscan requests per second")
	runCmd.Flags().Float64("alchemy-rps", 10, "Alchemy requests per second")
	runCmd.Flags().Int("max-in-flight", 4, "max concurrent requests per provider")
	runCmd.Flags().Int("queue-depth", 64, "max queued requests per provider")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("max-elapsed", 2*time.Minute, "total retry time budget per request")
	runCmd.Flags().String("metrics-addr", "", "optional address to serve /metrics on")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	daos, err := model.LoadDAOs(cfg.DAOConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backoff := httpx.Backoff{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryBackoff,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}

	etherscanHTTP := httpx.New(httpx.Config{
		Provider:          "etherscan",
		RequestsPerSecond: cfg.EtherscanRPS,
		MaxInFlight:       cfg.MaxInFlight,
		QueueDepth:        cfg.QueueDepth,
		Backoff:           backoff,
		MaxElapsed:        cfg.MaxElapsed,
	}, logger)

	alchemyHTTP := httpx.New(httpx.Config{
		Provider:          "alchemy",
		RequestsPerSecond: cfg.AlchemyRPS,
		MaxInFlight:       cfg.MaxInFlight,
		QueueDepth:        cfg.QueueDepth,
		Backoff:           backoff,
		MaxElapsed:        cfg.MaxElapsed,
	}, logger)

	abiClient, err := etherscan.NewClient(cfg.EtherscanAPIKey, cfg.Network, etherscanHTTP, backoff, logger)
	if err != nil {
		return err
	}

	rpcURL, err := chain.EndpointURL(cfg.Network, cfg.AlchemyAPIKey)
	if err != nil {
		return err
	}
	chainClient, err := chain.Dial(ctx, rpcURL, alchemyHTTP)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	fetcher := chain.NewFetcher(chainClient, chain.FetcherConfig{
		BatchSize: cfg.BatchSize,
		Backoff:   backoff,
	}, logger)

	cursors := cursor.NewStore(filepath.Join(cfg.DataDir, "cursors.json"))
	writer := dataset.NewFileWriter(cfg.DataDir)

	var sink collect.EventSink
	if cfg.PgDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sink = store
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	runner := collect.NewRunner(collect.RunConfig{Workers: cfg.Workers},
		abiClient, fetcher, cursors, writer, sink, logger)

	logger.Info("harvest start",
		zap.String("network", cfg.Network),
		zap.Int("daos", len(daos)),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("workers", cfg.Workers),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	summary := runner.Run(ctx, daos)
	for _, rep := range summary.Reports {
		if rep.Status == collect.StatusFailed {
			logger.Error("contract failed",
				zap.String("dao", rep.DAO),
				zap.String("contract", rep.Contract),
				zap.String("stage", string(rep.Stage)),
				zap.String("kind", rep.ErrKind.String()),
				zap.Bool("retryable", fault.IsRetryable(rep.Err)),
				zap.Error(rep.Err),
			)
		} else if rep.NoABI {
			logger.Info("contract has no published abi",
				zap.String("dao", rep.DAO),
				zap.String("contract", rep.Contract),
			)
		}
	}

	if failed := summary.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d contracts failed", failed, len(summary.Reports))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
