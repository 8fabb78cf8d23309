//go:build cgo

package boincdb

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

// openSQLite opens a local snapshot with the libsql driver.
func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	return openSQLiteDSN(ctx, dsn)
}
