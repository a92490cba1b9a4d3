// Package migrate applies numbered SQL migrations and records them in a
// schema_migrations table. Each storage backend provides an Applier.
package migrate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/bank-download/internal/logger"
)

// Migration is one SQL file, e.g. 0001_create_transactions.sql.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// Applied is a migration already recorded in schema_migrations.
type Applied struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Applier runs migrations against one database.
type Applier interface {
	EnsureMigrationsTable(ctx context.Context) error
	AppliedMigrations(ctx context.Context) ([]Applied, error)
	Execute(ctx context.Context, m Migration) error
	Record(ctx context.Context, m Migration, appliedBy string) error
}

var filenamePattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// ParseFilename extracts the version and name from a migration filename.
func ParseFilename(filename string) (version int, name string, ok bool) {
	matches := filenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// Checksum returns the hex sha256 of the raw file content.
func Checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// Read loads every migration under dir in fsys, sorted by version. The
// replacer, if non-nil, fills placeholders such as {{DATASET_ID}}; the
// checksum is taken before replacement so the same file applied to another
// dataset keeps its checksum.
func Read(fsys fs.FS, dir string, replacer *strings.Replacer) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("Read: reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := ParseFilename(e.Name())
		if !ok {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("Read: reading %s: %w", e.Name(), err)
		}

		sql := string(content)
		if replacer != nil {
			sql = replacer.Replace(sql)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: e.Name(),
			SQL:      sql,
			Checksum: Checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("Read: duplicate migration version %04d", migrations[i].Version)
		}
	}

	return migrations, nil
}

// Pending returns the migrations not yet applied. A recorded migration whose
// checksum no longer matches its file is an error: applied files are never
// edited.
func Pending(all []Migration, applied []Applied) ([]Migration, error) {
	done := make(map[int]Applied, len(applied))
	for _, a := range applied {
		done[a.Version] = a
	}

	var pending []Migration
	for _, m := range all {
		a, ok := done[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if a.Checksum != "" && a.Checksum != m.Checksum {
			return nil, fmt.Errorf("Pending: migration %04d_%s was modified after it was applied", m.Version, m.Name)
		}
	}
	return pending, nil
}

// Run applies every pending migration in order and returns how many ran.
func Run(ctx context.Context, a Applier, all []Migration, appliedBy string) (int, error) {
	log := logger.FromContext(ctx)

	if err := a.EnsureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Run: ensuring schema_migrations: %w", err)
	}

	applied, err := a.AppliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Run: reading applied migrations: %w", err)
	}

	pending, err := Pending(all, applied)
	if err != nil {
		return 0, err
	}

	for i, m := range pending {
		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		if err := a.Execute(ctx, m); err != nil {
			return i, fmt.Errorf("Run: executing %04d_%s: %w", m.Version, m.Name, err)
		}
		if err := a.Record(ctx, m, appliedBy); err != nil {
			return i, fmt.Errorf("Run: recording %04d_%s: %w", m.Version, m.Name, err)
		}
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply")
	}
	return len(pending), nil
}
