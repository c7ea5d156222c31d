package store

import (
	"context"
	"log/slog"
)

// Open connects to Postgres when databaseURL is set and falls back to the
// embedded SQLite database at sqlitePath otherwise. It does not migrate.
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if databaseURL != "" {
		db, err := OpenPostgres(ctx, databaseURL, logger)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := OpenSQLite(ctx, sqlitePath, logger)
	if err != nil {
		return nil, err
	}
	return db, nil
}
