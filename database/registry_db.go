package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBConfig connection pool settings for the registry database.
type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RegistryDB wraps the SQLite store holding canonical entities,
// aliases, corroborating identifiers, resolution records and the
// review queue.
type RegistryDB struct {
	conn *sql.DB
}

// NewRegistryDB opens the registry database at dbPath with default
// pooling. In-memory paths are pinned to a single connection so every
// query sees the migrated schema.
func NewRegistryDB(dbPath string) (*RegistryDB, error) {
	config := DBConfig{}
	if isInMemoryPath(dbPath) {
		config.MaxOpenConns = 1
		config.MaxIdleConns = 1
	}
	return NewRegistryDBWithConfig(dbPath, config)
}

func isInMemoryPath(dbPath string) bool {
	if dbPath == ":memory:" {
		return true
	}
	return strings.HasPrefix(dbPath, "file:") && strings.Contains(dbPath, "mode=memory")
}

// NewRegistryDBWithConfig opens the registry database with explicit
// pool settings and runs migrations.
func NewRegistryDBWithConfig(dbPath string, config DBConfig) (*RegistryDB, error) {
	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry database: %w", err)
	}

	// SQLite degrades under many concurrent writers; keep the pool small
	if config.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		conn.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		conn.SetMaxIdleConns(3)
	}
	if config.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping registry database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// WAL lets concurrent lot readers proceed while one writer applies
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		slog.Warn("Failed to enable WAL mode", "error", err)
	}

	db := &RegistryDB{conn: conn}
	if err := InitRegistrySchema(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection pool.
func (db *RegistryDB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity.
func (db *RegistryDB) Ping() error {
	return db.conn.Ping()
}

func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullFloat(nf sql.NullFloat64) float64 {
	if nf.Valid {
		return nf.Float64
	}
	return 0
}
