package boincdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const driverLibsql = "libsql"

func sqliteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	path = strings.TrimPrefix(path, "file:")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("sqlite snapshot: %w", err)
	}
	return "file:" + filepath.Clean(path), nil
}

func openSQLiteDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := configureReadOnly(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// configureReadOnly makes the connection refuse writes so a misdirected
// statement cannot touch a project snapshot.
func configureReadOnly(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only=ON"); err != nil {
		return fmt.Errorf("enable query_only: %w", err)
	}
	return nil
}
