// Package storage defines the unified Store interface that abstracts all
// persistence. Two backends are provided: SQLite (default, zero-config)
// and PostgreSQL (production).
package storage

import (
	"context"
	"errors"

	"github.com/engezna/engezna-agent/internal/domain"
	"github.com/engezna/engezna-agent/internal/memory"
)

// ErrNotFound is returned by sub-stores when a requested row does not exist.
// Backends wrap it with entity detail; callers test with errors.Is.
var ErrNotFound = errors.New("not found")

// Store is the unified persistence interface for the agent service.
// It provides access to the domain-specific sub-stores through accessor
// methods; both backends implement it over the same GORM models.
type Store interface {
	Merchants() domain.MerchantStore
	MenuItems() domain.MenuItemStore
	Orders() domain.OrderStore
	Addresses() domain.AddressStore
	Embeddings() domain.EmbeddingStore

	// Memories returns the customer-memory store. Save merges; it never
	// replaces a record wholesale.
	Memories() memory.Store

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	JournalMode string `json:"journal_mode" yaml:"journal_mode"` // "wal" (default).
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// DefaultDriver is used when no driver is configured.
const DefaultDriver = DriverSQLite
