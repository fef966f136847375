// Package bootstrap holds the process-startup wiring shared by cmd/play and
// cmd/api: picking and constructing the discovery.SystemController a
// deployment configures (spec.md §4.M names the interface; this module
// supplies the two reference implementations in internal/discovery).
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ulala-x/playhouse-go/internal/config"
	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/discovery/pgcontroller"
	"github.com/ulala-x/playhouse-go/internal/discovery/staticcontroller"
)

// BuildSystemController constructs the configured discovery.SystemController
// for a process's config.Common. "postgres" runs pending migrations before
// connecting; "static" (the default, for local/dev) loads a fixed peer list.
func BuildSystemController(ctx context.Context, cfg config.Common) (discovery.SystemController, error) {
	switch cfg.DiscoveryMode {
	case "postgres":
		if err := pgcontroller.RunMigrations(ctx, cfg.DiscoveryDSN); err != nil {
			return nil, fmt.Errorf("running discovery migrations: %w", err)
		}
		return pgcontroller.New(ctx, cfg.DiscoveryDSN, cfg.DiscoveryPollInterval()*3)
	case "static", "":
		return staticcontroller.Load(cfg.DiscoveryStaticFile)
	default:
		return nil, fmt.Errorf("unknown discovery_mode %q (want postgres or static)", cfg.DiscoveryMode)
	}
}
