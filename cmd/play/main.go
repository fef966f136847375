// Command play runs one Play process of spec.md §4.L: the client-facing
// boundary (TCP and/or WebSocket), the stage event-loop pool, and this
// process's edge into the inter-server mesh.
//
// Wiring mirrors the teacher's cmd/gameserver/main.go: load config before
// anything else so the configured log level takes effect from the first
// line of output, install the slog default handler, register a
// SIGINT/SIGTERM-driven cancellation, and run every long-lived component
// under one errgroup so the first failure tears the rest down.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulala-x/playhouse-go/internal/bootstrap"
	"github.com/ulala-x/playhouse-go/internal/config"
	"github.com/ulala-x/playhouse-go/internal/diagnostics"
	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/dispatch"
	"github.com/ulala-x/playhouse-go/internal/mesh"
	"github.com/ulala-x/playhouse-go/internal/packet"
	"github.com/ulala-x/playhouse-go/internal/reqcache"
	"github.com/ulala-x/playhouse-go/internal/stage"
	"github.com/ulala-x/playhouse-go/internal/telemetry"
	"github.com/ulala-x/playhouse-go/internal/telemetry/statshttp"
	"github.com/ulala-x/playhouse-go/internal/transport"
)

const defaultConfigPath = "config/play.yaml"

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
	if p := os.Getenv("PLAYHOUSE_PLAY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadPlay(cfgPath)
	if err != nil {
		return fmt.Errorf("loading play config: %w", err)
	}

	telemetry.SetupLogger(telemetry.ParseLogLevel(cfg.LogLevel), cfg.LogFormat)
	slog.Info("play server starting", "server_id", cfg.ServerID, "service_id", cfg.ServiceID)

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
			ServerID:   cfg.ServerID,
			ServerType: packet.ServerTypePlay,
			ServiceID:  cfg.ServiceID,
			Endpoint:   cfg.BindEndpoint,
			State:      discovery.ServerRunning,
		},
		PollInterval:  cfg.DiscoveryPollInterval(),
		DefaultPolicy: discovery.NewRoundRobinPolicy(),
	}, controller, m, slog.Default())

	poolSize := cfg.StageWorkerPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	pool := stage.NewPool(poolSize, slog.Default())
	timers := stage.NewTimerManager()
	reqs := reqcache.New()

	outboundHolder := &dispatch.OutboundRef{}
	mgr := stage.NewManager(pool, timers, outboundHolder, reqs, slog.Default())

	factory, auth := selectFactoryAndAuth(cfg)

	dispatcher := dispatch.NewPlayDispatcher(dispatch.PlayConfig{
		ServerID:          cfg.ServerID,
		ServiceID:         cfg.ServiceID,
		DefaultStageType:  cfg.DefaultStageType,
		AuthenticateMsgID: cfg.AuthenticateMessageID,
		CreateStageMsgID:  cfg.CreateStageMessageID,
		RequestTimeout:    cfg.RequestTimeout(),
	}, mgr, m, reqs, resolver, factory, auth, slog.Default())
	outboundHolder.Outbound = dispatcher

	reg := prometheus.NewRegistry()
	metrics := statshttp.New(reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.ActiveStages.Set(float64(mgr.Count()))
				metrics.ActiveSessions.Set(float64(dispatcher.SessionCount()))
			}
		}
	})

	g.Go(func() error {
		timers.Run()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timers.Stop()
		return nil
	})

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

	if cfg.TCPPort != 0 {
		tcpSrv := &transport.TCPServer{
			Addr:     fmt.Sprintf(":%d", cfg.TCPPort),
			Options:  transport.Options{MaxBodySize: packet.MaxBodySize, ReadTimeout: cfg.ConnectionIdleTimeout()},
			Accepter: dispatcher,
			Logger:   slog.Default(),
		}
		if cfg.UseSSL {
			tlsCfg, err := loadTLSConfig(cfg.Certificate, cfg.PrivateKey)
			if err != nil {
				return fmt.Errorf("loading TLS config: %w", err)
			}
			tcpSrv.TLSConfig = tlsCfg
		}
		g.Go(func() error {
			slog.Info("starting tcp listener", "port", cfg.TCPPort)
			if err := tcpSrv.Run(gctx); err != nil {
				return fmt.Errorf("tcp server: %w", err)
			}
			return nil
		})
	}

	if cfg.WebSocketAddr != "" {
		wsSrv := &transport.WSServer{
			Addr:     cfg.WebSocketAddr,
			Path:     cfg.WebSocketPath,
			Options:  transport.Options{MaxBodySize: packet.MaxBodySize, ReadTimeout: cfg.ConnectionIdleTimeout()},
			Accepter: dispatcher,
			Logger:   slog.Default(),
		}
		if cfg.UseSSL {
			wsSrv.CertFile = cfg.Certificate
			wsSrv.KeyFile = cfg.PrivateKey
		}
		g.Go(func() error {
			slog.Info("starting websocket listener", "addr", cfg.WebSocketAddr, "path", cfg.WebSocketPath)
			if err := wsSrv.Run(gctx); err != nil {
				return fmt.Errorf("websocket server: %w", err)
			}
			return nil
		})
	}

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
		return fmt.Errorf("play server error: %w", err)
	}
	return nil
}

// selectFactoryAndAuth returns the diagnostic echo Authenticator/
// StageFactory when enabled, otherwise a factory/authenticator that rejects
// everything — an application embeds this module to supply its own.
func selectFactoryAndAuth(cfg config.Play) (dispatch.StageFactory, dispatch.Authenticator) {
	if cfg.DiagnosticEchoEnabled {
		return diagnostics.Factory{}, diagnostics.Authenticator{}
	}
	return noopFactory{}, noopAuthenticator{}
}

type noopFactory struct{}

func (noopFactory) NewBehavior(string) (stage.Behavior, bool) { return nil, false }

type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(packet.Packet) (string, int64, bool) { return "", 0, false }

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

