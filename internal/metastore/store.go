// Package metastore is the sqlite-backed record of blocklist and
// external-rewrite sync attempts (SPEC_FULL §3, §4.10). It is never
// consulted on the DNS query path — only by the admin surface and by
// startup/shutdown logging.
package metastore

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure Go sqlite driver, no cgo
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Kind identifies what a SyncRecord describes.
type Kind string

const (
	KindBlocklist      Kind = "blocklist"
	KindExternalRewrite Kind = "external_rewrite"
)

// SyncRecord is one row of the operational metadata this store keeps
// (spec §3's sync-record shape, generalized to cover both blocklist and
// external-rewrite sources).
type SyncRecord struct {
	ID        int64
	Kind      Kind
	Source    string
	RuleCount int
	Success   bool
	Error     string
	SyncedAt  time.Time
}

// Store wraps a sqlite connection, schema-migrated at Open.
type Store struct {
	db *sql.DB
}

// Open opens or creates a sqlite database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("metastore: migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("metastore: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("metastore: migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("metastore: run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSync inserts a new sync_records row. syncErr may be nil for a
// successful sync.
func (s *Store) RecordSync(kind Kind, source string, ruleCount int, syncErr error) error {
	errText := ""
	if syncErr != nil {
		errText = syncErr.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO sync_records (kind, source, rule_count, success, error) VALUES (?, ?, ?, ?, ?)`,
		string(kind), source, ruleCount, syncErr == nil, nullIfEmpty(errText),
	)
	if err != nil {
		return fmt.Errorf("metastore: record sync: %w", err)
	}
	return nil
}

// RecentSyncs returns up to limit most recent records of kind, newest first.
func (s *Store) RecentSyncs(kind Kind, limit int) ([]SyncRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, source, rule_count, success, COALESCE(error, ''), synced_at
		 FROM sync_records WHERE kind = ? ORDER BY synced_at DESC, id DESC LIMIT ?`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("metastore: query recent syncs: %w", err)
	}
	defer rows.Close()

	var out []SyncRecord
	for rows.Next() {
		var r SyncRecord
		var kindStr string
		if err := rows.Scan(&r.ID, &kindStr, &r.Source, &r.RuleCount, &r.Success, &r.Error, &r.SyncedAt); err != nil {
			return nil, fmt.Errorf("metastore: scan sync record: %w", err)
		}
		r.Kind = Kind(kindStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
