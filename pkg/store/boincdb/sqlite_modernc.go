//go:build !cgo

package boincdb

import (
	"context"
	"database/sql"

	sqlite "modernc.org/sqlite"
)

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// openSQLite opens a local snapshot with the pure-Go driver.
func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	return openSQLiteDSN(ctx, dsn)
}
