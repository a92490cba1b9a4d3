package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/dvloznov/bank-download/internal/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() ([]migrate.Migration, error) {
	return migrate.Read(migrationFiles, "migrations", nil)
}

// Migrator applies migrations to PostgreSQL.
type Migrator struct {
	db DB
}

// NewMigrator creates a Migrator over db.
func NewMigrator(db DB) *Migrator {
	return &Migrator{db: db}
}

// EnsureMigrationsTable implements migrate.Applier.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL,
			checksum   TEXT,
			applied_by TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("EnsureMigrationsTable: %w", err)
	}
	return nil
}

// AppliedMigrations implements migrate.Applier.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migrate.Applied, error) {
	rows, err := m.db.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("AppliedMigrations: query: %w", err)
	}
	defer rows.Close()

	var applied []migrate.Applied
	for rows.Next() {
		var a migrate.Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt, &a.Checksum, &a.AppliedBy); err != nil {
			return nil, fmt.Errorf("AppliedMigrations: scan: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// Execute implements migrate.Applier.
func (m *Migrator) Execute(ctx context.Context, mig migrate.Migration) error {
	if _, err := m.db.Exec(ctx, mig.SQL); err != nil {
		return fmt.Errorf("Execute: %w", err)
	}
	return nil
}

// Record implements migrate.Applier.
func (m *Migrator) Record(ctx context.Context, mig migrate.Migration, appliedBy string) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at, checksum, applied_by)
		VALUES ($1, $2, $3, $4, $5)
	`, mig.Version, mig.Name, time.Now(), mig.Checksum, appliedBy)
	if err != nil {
		return fmt.Errorf("Record: %w", err)
	}
	return nil
}

var _ migrate.Applier = (*Migrator)(nil)
