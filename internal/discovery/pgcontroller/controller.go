// Package pgcontroller is the reference Postgres-backed
// discovery.SystemController of spec.md §4.M: UpdateServerInfo upserts the
// caller's own row, prunes rows nobody has refreshed recently, and returns
// the full remaining membership.
//
// Grounded on the teacher's internal/db package: New wraps a pgxpool.Pool
// the same way db.New does, and RunMigrations drives goose against an
// embedded SQL set exactly like db.RunMigrations.
package pgcontroller

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ulala-x/playhouse-go/internal/discovery"
	"github.com/ulala-x/playhouse-go/internal/discovery/pgcontroller/migrations"
	"github.com/ulala-x/playhouse-go/internal/packet"
)

var gooseOnce sync.Once

// RunMigrations drives goose's "up" migrations against dsn using the
// embedded server_info schema.
func RunMigrations(ctx context.Context, dsn string) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}
	defer sqlDB.Close()

	var dialectErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations.FS)
		dialectErr = goose.SetDialect("postgres")
	})
	if dialectErr != nil {
		return fmt.Errorf("setting goose dialect: %w", dialectErr)
	}
	if err := goose.UpContext(ctx, sqlDB, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Controller is a discovery.SystemController backed by a Postgres table
// every process in the mesh upserts its own row into.
type Controller struct {
	pool       *pgxpool.Pool
	staleAfter time.Duration
}

// New connects to Postgres and returns a Controller. staleAfter bounds how
// long a row survives without a refresh before it is pruned from the
// membership list (and therefore reported absent, triggering the resolver's
// two-consecutive-absence disconnect rule); pass 0 for a default of 3x the
// resolver's default poll interval.
func New(ctx context.Context, dsn string, staleAfter time.Duration) (*Controller, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if staleAfter <= 0 {
		staleAfter = 9 * time.Second
	}
	return &Controller{pool: pool, staleAfter: staleAfter}, nil
}

// Close closes the underlying connection pool.
func (c *Controller) Close() {
	c.pool.Close()
}

// UpdateServerInfo implements discovery.SystemController: upsert self,
// prune stale rows, return everyone still current.
func (c *Controller) UpdateServerInfo(ctx context.Context, self discovery.ServerInfo) ([]discovery.ServerInfo, error) {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO server_info (server_id, server_type, service_id, service_name, endpoint, weight, state, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (server_id) DO UPDATE SET
			server_type = EXCLUDED.server_type,
			service_id = EXCLUDED.service_id,
			service_name = EXCLUDED.service_name,
			endpoint = EXCLUDED.endpoint,
			weight = EXCLUDED.weight,
			state = EXCLUDED.state,
			last_seen = now()`,
		self.ServerID, int16(self.ServerType), int32(self.ServiceID), self.ServiceName, self.Endpoint, self.Weight, int16(self.State),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting self server_info row %q: %w", self.ServerID, err)
	}

	if _, err := c.pool.Exec(ctx, `DELETE FROM server_info WHERE last_seen < now() - $1::interval`,
		fmt.Sprintf("%d milliseconds", c.staleAfter.Milliseconds())); err != nil {
		return nil, fmt.Errorf("pruning stale server_info rows: %w", err)
	}

	rows, err := c.pool.Query(ctx, `
		SELECT server_id, server_type, service_id, service_name, endpoint, weight, state
		FROM server_info`)
	if err != nil {
		return nil, fmt.Errorf("querying server_info: %w", err)
	}
	defer rows.Close()

	var result []discovery.ServerInfo
	for rows.Next() {
		var (
			info             discovery.ServerInfo
			serverType, state int16
			serviceID        int32
		)
		if err := rows.Scan(&info.ServerID, &serverType, &serviceID, &info.ServiceName, &info.Endpoint, &info.Weight, &state); err != nil {
			return nil, fmt.Errorf("scanning server_info row: %w", err)
		}
		info.ServerType = packet.ServerType(serverType)
		info.ServiceID = uint16(serviceID)
		info.State = discovery.ServerState(state)
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server_info rows: %w", err)
	}
	return result, nil
}
