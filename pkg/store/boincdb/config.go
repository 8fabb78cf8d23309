// Package boincdb reads execution records from a BOINC project database.
//
// The backend only ever issues SELECT statements against the workunit,
// result and host tables. It never creates, migrates or writes to the
// database it is pointed at.
package boincdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/batchlens/pkg/store"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultQueryTimeout   = 10 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Row caps applied to every query regardless of the requested limit.
const (
	MaxListChunks = 20000
	MaxJobChunks  = 50000
	MaxHosts      = 50000
)

type Config struct {
	// Driver is "mysql" (default) or "sqlite".
	Driver string

	// MySQL connection. Socket takes precedence over Host/Port.
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string

	// Path is the SQLite snapshot file used with the sqlite driver.
	Path string

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
}

func (c Config) driver() string {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	if d == "" {
		return DriverMySQL
	}
	return d
}

// Open connects to the database described by cfg and verifies it is
// reachable. Connection failures wrap store.ErrUnavailable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.driver() {
	case DriverMySQL:
		db, err = openMySQL(ctx, cfg)
	case DriverSQLite:
		db, err = openSQLite(ctx, cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported boinc database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, store.Unavailable("open boinc database", err)
	}

	return New(db, cfg.QueryTimeout), nil
}
