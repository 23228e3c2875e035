package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the gateway's SQLite store. It holds the runtime config tiers and
// the persisted device command and state history that devices restore on
// load.
type DB struct {
	*sql.DB
	path string
}

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

// historyConns caps concurrent connections. Command timers and the
// debounced state flushes persist from their own goroutines.
const historyConns = 4

// Open opens the gateway database at path, creating the file and its
// directory on first start. An empty path means gateway.db under the
// user's config directory, and a leading ~ is the home directory.
func Open(path string) (*DB, error) {
	if path == MemoryPath {
		return openMemory()
	}
	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create gateway data dir: %w", err)
	}

	// WAL lets history reads from the API run beside timer writes.
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open gateway db %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(historyConns)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect gateway db %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

func openMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", MemoryPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open gateway db: %w", err)
	}
	// each extra connection would see its own empty database
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect gateway db: %w", err)
	}
	return &DB{DB: sqlDB, path: MemoryPath}, nil
}

// Path is the resolved database file, or MemoryPath.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Tx runs fn in a transaction, committing only when fn succeeds.
// Migrations and profile switches use it to stay atomic.
func (db *DB) Tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v (after %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// resolvePath applies the default location and ~ expansion.
func resolvePath(path string) (string, error) {
	if path == "" {
		return defaultPath()
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", path, err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// defaultPath is $XDG_CONFIG_HOME/yombo/gateway.db on linux and
// ~/.config/yombo/gateway.db elsewhere.
func defaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" || runtime.GOOS != "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("locate gateway db: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "yombo", "gateway.db"), nil
}
