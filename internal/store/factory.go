package store

import (
	"context"
	"strings"
)

// Open returns a PostgreSQL-backed history when databaseURL is set,
// otherwise a SQLite database at sqlitePath.
func Open(ctx context.Context, databaseURL, sqlitePath string) (History, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewSQLiteStore(sqlitePath)
	}
	return NewPostgresStore(ctx, databaseURL)
}
