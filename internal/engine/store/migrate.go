package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed schema/postgres/*.sql schema/sqlite/*.sql
var schemaFS embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

type migrator interface {
	dialect() string
	ensureMigrationsTable(ctx context.Context) error
	appliedVersions(ctx context.Context) (map[int]bool, error)
	// applyMigration runs m and records it in one transaction. It reports
	// false when another migrator got there first.
	applyMigration(ctx context.Context, m migration) (bool, error)
}

// loadMigrations reads schema/<dialect>/NNN_name.sql in version order.
func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("schema", dialect)
	entries, err := schemaFS.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", entry.Name(), err)
		}
		data, err := schemaFS.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: version, name: entry.Name(), sql: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].version)
		}
	}
	return out, nil
}

// Pending returns the migrations not yet applied to s, by file name.
func Pending(ctx context.Context, s Store) ([]string, error) {
	all, err := loadMigrations(s.dialect())
	if err != nil {
		return nil, err
	}
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	var pending []string
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m.name)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration in order and returns the names applied.
func Migrate(ctx context.Context, s Store, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	all, err := loadMigrations(s.dialect())
	if err != nil {
		return nil, err
	}
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	var done []string
	for _, m := range all {
		if applied[m.version] {
			continue
		}
		ok, err := s.applyMigration(ctx, m)
		if err != nil {
			return done, fmt.Errorf("execute %s: %w", m.name, err)
		}
		if ok {
			done = append(done, m.name)
			logger.Info("migration applied", slog.String("file", m.name), slog.String("dialect", s.dialect()))
		}
	}
	return done, nil
}
