// Package store is the single-file relational database the engine
// persists samples into: devices, channels, groups, data and variables,
// plus the Schema Manager that creates or upgrades that layout. The
// Store never exposes raw query text to
// callers outside this package; everything is a typed method.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// julianUnixEpoch is the Julian day number of the Unix epoch
// (1970-01-01T00:00:00Z), used to convert between the on-disk
// fractional-Julian-day timestamp and Unix seconds.
const julianUnixEpoch = 2440587.5

const secondsPerDay = 86400.0

// ToJulian converts a time.Time into the fractional Julian day the
// store persists.
func ToJulian(t time.Time) float64 {
	return float64(t.UnixNano())/1e9/secondsPerDay + julianUnixEpoch
}

// FromJulian converts a fractional Julian day read back from the store
// into a time.Time.
func FromJulian(jd float64) time.Time {
	unixSeconds := (jd - julianUnixEpoch) * secondsPerDay
	sec := int64(unixSeconds)
	nsec := int64((unixSeconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// JulianFromUnixSeconds converts a fractional Unix-seconds timestamp,
// as carried in a history query's timestamp.gt/timestamp.lt fields,
// into the Julian day used for comparison against the data table.
func JulianFromUnixSeconds(sec float64) float64 {
	return sec/secondsPerDay + julianUnixEpoch
}

// Store owns the sqlite handle and a small cache of prepared
// statements, keyed by statement text, so the hot ingestion path
// (sample insert, eviction, id lookups) binds and executes without
// re-parsing. QueryRange, the listing and the counting queries run their
// text directly and do not use the cache.
type Store struct {
	db *sql.DB
	lock *flock.Flock
	logger *slog.Logger

	mu sync.Mutex
	stmts map[string]*sql.Stmt
}

// ErrNewerSchema is returned when the store file was created by a
// newer version of this software.
var ErrNewerSchema = errors.New("database file created by newer version")

// Open opens (creating if absent) the single-file database at path,
// takes an advisory exclusive lock on it, and runs the Schema Manager
// to bring it to the current layout.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking database file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database file %s is already open by another process", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, lock: lock, logger: logger, stmts: make(map[string]*sql.Stmt)}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	return s, nil
}

// Close releases the prepared statement cache, the sqlite handle and
// the file lock.
func (s *Store) Close() error {
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = nil
	s.mu.Unlock()

	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// prepare returns a cached prepared statement for query, preparing and
// caching it on first use.
func (s *Store) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	row := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	var got string
	if err := row.Scan(&got); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func readDBVersion(ctx context.Context, db *sql.DB) (int, error) {
	exists, err := tableExists(ctx, db, "variables")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}
	row := db.QueryRowContext(ctx, "SELECT value FROM variables WHERE name = 'db_version'")
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(v, "%d", &version); err != nil {
		return 0, fmt.Errorf("parsing db_version: %w", err)
	}
	return version, nil
}

func createTables(ctx context.Context, exec interface {
	ExecContext(context.Context, string,...any) (sql.Result, error)
}) error {
	if _, err := exec.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	if _, err := exec.ExecContext(ctx, "INSERT OR REPLACE INTO variables (name, value) VALUES ('db_version', ?)",
		fmt.Sprintf("%d", schemaVersion)); err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	return nil
}

// migrate implements the open/upgrade procedure.
func (s *Store) migrate(ctx context.Context) error {
	hasData, err := tableExists(ctx, s.db, "data")
	if err != nil {
		return err
	}

	if !hasData {
		s.logger.Info("creating new database tables")
		return createTables(ctx, s.db)
	}

	version, err := readDBVersion(ctx, s.db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	switch {
	case version > schemaVersion:
		return ErrNewerSchema
	case version == schemaVersion:
		s.logger.Debug("schema up to date, ensuring tables exist")
		return createTables(ctx, s.db)
	default:
		s.logger.Warn("legacy database format found, upgrading", "from_version", version)
		return s.upgradeFromLegacy(ctx)
	}
}

// upgradeFromLegacy runs the version-0 -> version-1 upgrade transaction.
// Failure rolls the whole transaction back atomically;
// the file is left at version 0.
func (s *Store) upgradeFromLegacy(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upgrade transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upgradeFromV0SQL); err != nil {
		return fmt.Errorf("renaming legacy data table: %w", err)
	}
	if err := createTables(ctx, tx); err != nil {
		return fmt.Errorf("creating current-version tables during upgrade: %w", err)
	}

	stmts := []string{
		"INSERT OR IGNORE INTO devices (device) SELECT device FROM tmp GROUP BY device",
		"INSERT OR IGNORE INTO channels (device, control) SELECT device, control FROM tmp GROUP BY device, control",
		"INSERT OR IGNORE INTO groups (group_id) SELECT group_id FROM tmp GROUP BY group_id",
		`INSERT INTO data (uid, device, channel, value, timestamp, group_id)
		 SELECT tmp.uid, devices.int_id, channels.int_id, tmp.value, julianday(tmp.timestamp), groups.int_id
		 FROM tmp
		 LEFT JOIN devices ON tmp.device = devices.device
		 LEFT JOIN channels ON tmp.device = channels.device AND tmp.control = channels.control
		 LEFT JOIN groups ON tmp.group_id = groups.group_id`,
		"DROP TABLE tmp",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("upgrading legacy rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing upgrade transaction: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		s.logger.Warn("VACUUM after schema upgrade failed", "error", err)
	}
	return nil
}
