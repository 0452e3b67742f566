package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationTable lives outside the amm schema so that rolling back the
// schema migration does not drop its own bookkeeping.
const migrationTable = "public.amm_schema_migrations"

// ErrMigrationDrift is returned by Up when an applied migration file no
// longer matches the checksum recorded when it ran.
var ErrMigrationDrift = errors.New("applied migration was modified")

// Migrator applies {version}_{name}.up.sql / .down.sql files in version
// order, one transaction per file.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

// MigrationStatus is one up-migration file. Modified means it was applied
// from different content than is on disk now.
type MigrationStatus struct {
	Version  string
	Filename string
	Applied  bool
	Modified bool
}

type appliedMigration struct {
	filename string
	checksum string
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Up applies every pending migration. It refuses to run when an applied
// file has drifted.
func (m *Migrator) Up(ctx context.Context) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.Modified {
			return fmt.Errorf("%w: %s", ErrMigrationDrift, s.Filename)
		}
	}

	for _, s := range statuses {
		if s.Applied {
			continue
		}
		content, err := m.read(s.Filename)
		if err != nil {
			return err
		}
		m.logger.Info().Str("file", s.Filename).Msg("applying migration")
		err = m.inTx(ctx, s.Filename, content, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO `+migrationTable+` (version, filename, checksum) VALUES ($1, $2, $3)`,
				s.Version, s.Filename, Checksum(content),
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return err
	}

	var version, filename string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM `+migrationTable+` ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get latest migration: %w", err)
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	content, err := m.read(downFile)
	if err != nil {
		return err
	}
	err = m.inTx(ctx, downFile, content, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM `+migrationTable+` WHERE version = $1`, version)
		return err
	})
	if err != nil {
		return err
	}
	m.logger.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// Status lists every up-migration in version order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied migrations: %w", err)
	}
	files, err := m.listMigrationFiles(".up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	checksums := make(map[string]string, len(files))
	for _, f := range files {
		if _, ok := applied[extractVersion(f)]; !ok {
			continue
		}
		content, err := m.read(f)
		if err != nil {
			return nil, err
		}
		checksums[f] = Checksum(content)
	}
	return statusOf(files, applied, checksums), nil
}

func statusOf(files []string, applied map[string]appliedMigration, checksums map[string]string) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		version := extractVersion(f)
		a, ok := applied[version]
		statuses = append(statuses, MigrationStatus{
			Version:  version,
			Filename: f,
			Applied:  ok,
			// rows recorded before checksums existed have none
			Modified: ok && a.checksum != "" && a.checksum != checksums[f],
		})
	}
	return statuses
}

// Pending filters files down to those whose version is not in applied,
// keeping their order.
func Pending(files []string, applied map[string]bool) []string {
	var pending []string
	for _, f := range files {
		if !applied[extractVersion(f)] {
			pending = append(pending, f)
		}
	}
	return pending
}

// Checksum is the hex SHA-256 of a migration file.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (m *Migrator) read(filename string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, filename))
	if err != nil {
		return nil, fmt.Errorf("read migration %s: %w", filename, err)
	}
	return content, nil
}

// inTx runs a migration file and its bookkeeping atomically.
func (m *Migrator) inTx(ctx context.Context, filename string, content []byte, record func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", filename, err)
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", filename, err)
	}
	if err := record(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("record migration %s: %w", filename, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", filename, err)
	}
	return nil
}

func (m *Migrator) ensureMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationTable+` (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]appliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, filename, checksum FROM `+migrationTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var version string
		var a appliedMigration
		if err := rows.Scan(&version, &a.filename, &a.checksum); err != nil {
			return nil, err
		}
		applied[version] = a
	}
	return applied, rows.Err()
}

func (m *Migrator) listMigrationFiles(suffix string) ([]string, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration filename:
// "000003_quote_log.up.sql" -> "000003".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
