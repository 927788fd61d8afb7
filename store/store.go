// Package store persists session state: turn history, tool outcomes and raw
// API exchanges. Two backends are provided, SQLite for single-node use and
// Postgres for shared deployments. Both satisfy viva.Archiver.
package store

import (
	"context"
	"fmt"

	"github.com/boat-builder/viva"
)

// Store is the persistence contract for session state. SaveToolOutcome and
// SaveExchange upsert by id so a superseding write replaces the stored value
// while keeping the original arrival position.
type Store interface {
	viva.Archiver

	LoadHistory(ctx context.Context, sessionID string) ([]viva.Message, error)
	LoadToolOutcomes(ctx context.Context, sessionID string) (map[string]viva.ToolOutcome, error)
	LoadExchanges(ctx context.Context, sessionID string) ([]viva.Exchange, error)
	Close() error
}

// Open constructs the store selected by driver. Supported drivers are
// "sqlite" and "postgres".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
