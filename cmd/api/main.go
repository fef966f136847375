// Command api runs one Api process of spec.md §4.N: a stateless,
// mesh-only handler host with no client-facing transport of its own.
// Wiring mirrors cmd/play's main.go, minus the client boundary.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulala-x/playhouse-go/internal/apihost"
	"github.com/ulala-x/playhouse-go/internal/bootstrap"
	"github.com/ulala-x/playhouse-go/internal/config"
	"github.com/ulala-x/playhouse-go/internal/diagnostics"
	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/dispatch"
	"github.com/ulala-x/playhouse-go/internal/mesh"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/telemetry"
	"github.com/ulala-x/playhouse-go/internal/telemetry/statshttp"
)

const defaultConfigPath = "config/api.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := defaultConfigPath
	if p := os.Getenv("PLAYHOUSE_API_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadApi(cfgPath)
	if err != nil {
		return fmt.Errorf("loading api config: %w", err)
	}

	telemetry.SetupLogger(telemetry.ParseLogLevel(cfg.LogLevel), cfg.LogFormat)
	slog.Info("api server starting", "server_id", cfg.ServerID, "service_id", cfg.ServiceID, "service_name", cfg.ServiceName)

	controller, err := bootstrap.BuildSystemController(ctx, cfg.Common)
	if err != nil {
		return fmt.Errorf("building system controller: %w", err)
	}

	m, err := mesh.New(ctx, cfg.ServerID, cfg.BindEndpoint, packet.MaxBodySize, slog.Default())
	if err != nil {
		return fmt.Errorf("starting mesh: %w", err)
	}
	defer m.Close()
	if err := m.Connect(cfg.ServerID, cfg.BindEndpoint); err != nil {
		return fmt.Errorf("mesh self-connect: %w", err)
	}

	resolver := discovery.NewResolver(discovery.Config{
		Self: discovery.ServerInfo{
			ServerID:    cfg.ServerID,
			ServerType:  packet.ServerTypeApi,
			ServiceID:   cfg.ServiceID,
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.BindEndpoint,
			State:       discovery.ServerRunning,
		},
		PollInterval:  cfg.DiscoveryPollInterval(),
		DefaultPolicy: discovery.NewRoundRobinPolicy(),
	}, controller, m, slog.Default())

	host := apihost.NewHost(diagnostics.Container{}, slog.Default())
	if cfg.DiagnosticEchoEnabled {
		if err := host.Register(diagnostics.ApiEchoController{}); err != nil {
			return fmt.Errorf("registering diagnostic echo controller: %w", err)
		}
	}

	reqs := reqcache.New()
	dispatcher := dispatch.NewApiDispatcher(dispatch.ApiConfig{
		ServerID:  cfg.ServerID,
		ServiceID: cfg.ServiceID,
	}, m, host, reqs, resolver, slog.Default())

	reg := prometheus.NewRegistry()
	metrics := statshttp.New(reg)
	metrics.ActiveStages.Set(0) // Api processes host no stages; recorded for dashboard symmetry with Play

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.Run(gctx, dispatcher.HandleRoutePacket); err != nil {
			return fmt.Errorf("mesh run loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		resolver.Run(gctx)
		return nil
	})

	if cfg.StatsAddr != "" {
		statsSrv := &statshttp.Server{Addr: cfg.StatsAddr, Registry: reg}
		g.Go(func() error {
			slog.Info("starting stats surface", "addr", cfg.StatsAddr)
			if err := statsSrv.Run(gctx); err != nil {
				return fmt.Errorf("stats server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}
