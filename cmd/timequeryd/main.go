// Command timequeryd evaluates time cells continuously and publishes their
// results.
//
// Each cycle the daemon samples every cell's adapter, steps the cell (store
// the sample, run its windowed queries) and publishes the outcome:
//  1. as the latest snapshot in the configured store (memory, redis, badger)
//  2. to websocket subscribers of /cells/stream
//  3. over gRPC (timequery.v1.Cells)
//
// Usage:
//
//	timequeryd -cells-file=cells.yaml -interval=1s -storage=redis
//
// Environment variables:
//
//	CELLS_FILE     - YAML file declaring the cells (required)
//	LISTEN         - HTTP listen address (default: :8080)
//	GRPC_LISTEN    - gRPC listen address (default: :50051)
//	INTERVAL       - Evaluation cycle interval (default: 1s)
//	SAMPLE_TIMEOUT - Timeout of one adapter sample (default: 5s)
//	TLS_ENABLED    - Serve HTTP and gRPC over TLS (default: false)
//	STORAGE        - Snapshot storage: memory, redis, badger (default: memory)
//	LOG_LEVEL      - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT     - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/timequery/cmd/timequeryd/config"
	"github.com/HatiCode/timequery/cmd/timequeryd/logger"
	"github.com/HatiCode/timequery/cmd/timequeryd/metrics"
	"github.com/HatiCode/timequery/cmd/timequeryd/router"
	"github.com/HatiCode/timequery/pkg/adapters"
	"github.com/HatiCode/timequery/pkg/api/grpcapi"
	"github.com/HatiCode/timequery/pkg/cell"
	"github.com/HatiCode/timequery/pkg/httpx"
	"github.com/HatiCode/timequery/pkg/stream"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting timequeryd",
		"version", version,
		"cells_file", cfg.CellsFile,
		"storage", cfg.Storage,
		"interval", cfg.Interval,
		"tls_enabled", cfg.TLS.Enabled,
	)

	cellConfigs, err := config.LoadCells(cfg.CellsFile)
	if err != nil {
		log.Error("failed to load cells", "error", err)
		os.Exit(1)
	}

	sourceTLS, err := cfg.SourceTLS.ClientConfig()
	if err != nil {
		log.Error("invalid source TLS configuration", "error", err)
		os.Exit(1)
	}

	bindings, err := buildBindings(cellConfigs, httpx.NewClient(cfg.SampleTimeout, sourceTLS), log)
	if err != nil {
		log.Error("failed to build cells", "error", err)
		os.Exit(1)
	}

	store, err := newStore(cfg, log)
	if err != nil {
		log.Error("failed to open snapshot store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.close(); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	hub := stream.NewHub()
	defer hub.Stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	runner := NewRunner(bindings, store, hub, cfg.SampleTimeout, log, m)

	handler := router.SetupRoutes(router.Deps{
		Cells:      runner,
		Store:      store,
		Hub:        hub,
		Gatherer:   prometheus.DefaultGatherer,
		StaleAfter: cfg.StaleAfter,
		Health:     store.health,
		Logger:     log,

		AllowedOrigins: cfg.StreamOrigins,
	})
	serverTLS, err := cfg.TLS.ServerConfig()
	if err != nil {
		log.Error("invalid TLS configuration", "error", err)
		os.Exit(1)
	}
	httpServer := httpx.NewServer(cfg.Listen, handler, log).WithTLS(serverTLS)

	var grpcServer *grpc.Server
	serverErr := make(chan error, 2)

	if cfg.GRPCListen != "" {
		var opts []grpc.ServerOption
		if serverTLS != nil {
			opts = append(opts, grpc.Creds(credentials.NewTLS(serverTLS)))
		}
		grpcServer = grpc.NewServer(opts...)
		grpcapi.RegisterCellsServer(grpcServer, grpcapi.NewServer(store, runner.Names, log))

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		reflection.Register(grpcServer)

		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		go func() {
			log.Info("grpc server listening", "address", cfg.GRPCListen)
			if err := grpcServer.Serve(lis); err != nil {
				serverErr <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := runner.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("evaluation loop failed", "error", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			serverErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		log.Error("server failed", "error", err)
	}

	log.Info("shutting down")
	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	log.Info("shutdown complete")
}

// buildBindings creates every configured cell and its adapter. Network
// adapters share client.
func buildBindings(cells []config.CellConfig, client *http.Client, log *slog.Logger) ([]Binding, error) {
	out := make([]Binding, 0, len(cells))

	for _, c := range cells {
		a, err := adapters.New(c.Adapter.Kind, c.Adapter.Config)
		if err != nil {
			return nil, fmt.Errorf("cell %q: %w", c.Name, err)
		}
		a = adapters.WithHTTPClient(a, client)

		var tc cell.Cell
		switch c.Kind {
		case config.KindInterval:
			tc = cell.NewIntervalCell(c.Name, c.Key, c.Terms, log)
		default:
			tc = cell.NewQueryCell(c.Name, c.Store, c.Queries, log)
		}

		log.Info("configured cell", "cell", c.Name, "kind", c.Kind, "adapter", a.Name())
		out = append(out, Binding{Cell: tc, Adapter: a})
	}
	return out, nil
}
