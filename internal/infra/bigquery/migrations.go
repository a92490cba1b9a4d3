package bigquery

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/bank-download/internal/migrate"
	"google.golang.org/api/iterator"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the embedded migrations with {{PROJECT_ID}} and
// {{DATASET_ID}} filled in for cfg.
func Migrations(cfg Config) ([]migrate.Migration, error) {
	return migrate.Read(migrationFiles, "migrations", placeholders(cfg))
}

func placeholders(cfg Config) *strings.Replacer {
	return strings.NewReplacer("{{PROJECT_ID}}", cfg.Project, "{{DATASET_ID}}", cfg.Dataset)
}

// Migrator applies migrations to the dataset.
type Migrator struct {
	client *Client
}

// NewMigrator creates a Migrator using the shared client.
func NewMigrator(client *Client) *Migrator {
	return &Migrator{client: client}
}

// EnsureMigrationsTable implements migrate.Applier.
func (m *Migrator) EnsureMigrationsTable(ctx context.Context) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.client.table("schema_migrations"))

	_, err := m.client.runDML(ctx, "EnsureMigrationsTable", sql, nil)
	return err
}

// AppliedMigrations implements migrate.Applier.
func (m *Migrator) AppliedMigrations(ctx context.Context) ([]migrate.Applied, error) {
	q := m.client.bq.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.client.table("schema_migrations")))

	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("AppliedMigrations: reading: %w", err)
	}

	var applied []migrate.Applied
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("AppliedMigrations: iterating: %w", err)
		}

		applied = append(applied, migrate.Applied{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

// Execute implements migrate.Applier.
func (m *Migrator) Execute(ctx context.Context, mig migrate.Migration) error {
	_, err := m.client.runDML(ctx, "Execute", mig.SQL, nil)
	return err
}

// Record implements migrate.Applier.
func (m *Migrator) Record(ctx context.Context, mig migrate.Migration, appliedBy string) error {
	sql := fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.client.table("schema_migrations"))

	_, err := m.client.runDML(ctx, "Record", sql, []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: appliedBy},
	})
	return err
}

var _ migrate.Applier = (*Migrator)(nil)
