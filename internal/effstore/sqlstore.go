package effstore

import (
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/skyring-data/exchange.tod/internal/monitoring"
	"github.com/skyring-data/exchange.tod/internal/tod"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore is a Store backed by one SQLite database per frequency band,
// one row per (detector, stream, sample).
type SQLStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating and migrating as needed) the exchange store for
// a band under dir. The directory must already exist.
func Open(dir, band string) (*SQLStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("effstore: store directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("effstore: store path %s is not a directory", dir)
	}

	path := filepath.Join(dir, fmt.Sprintf("exchange_%s.sqlite", band))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("effstore: open %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, path: path}, nil
}

// migrateUp applies the embedded schema migrations.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("effstore: load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("effstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("effstore: migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("effstore: migrate schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.path
}

// SetMeta records a store metadata key.
func (s *SQLStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO store_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("effstore: set meta %s: %w", key, err)
	}
	return nil
}

// Read implements Store.
func (s *SQLStore) Read(detector string, kind tod.StreamKind, first int64, n int) ([]float64, []uint8, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("effstore: non-positive sample count %d", n)
	}
	rows, err := s.db.Query(
		`SELECT sample, vals, flag FROM samples
		 WHERE detector = ? AND kind = ? AND sample >= ? AND sample < ?
		 ORDER BY sample`,
		detector, string(kind), first, first+int64(n),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("effstore: read %s/%s: %w", detector, kind, err)
	}
	defer rows.Close()
	return scanSamples(rows, kind, first, n)
}

// Write implements Store. All samples of the block are written in one
// transaction so a failure leaves no partial block behind.
func (s *SQLStore) Write(detector string, kind tod.StreamKind, first int64, values []float64, flags []uint8) error {
	n, err := checkShape(kind, values, flags)
	if err != nil {
		return err
	}
	w := kind.Width()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("effstore: begin write: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO samples (detector, kind, sample, vals, flag) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(detector, kind, sample) DO UPDATE SET vals = excluded.vals, flag = excluded.flag`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("effstore: prepare write: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		blob := encodeValues(values[i*w : (i+1)*w])
		if _, err := stmt.Exec(detector, string(kind), first+int64(i), blob, flags[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("effstore: write %s/%s sample %d: %w", detector, kind, first+int64(i), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("effstore: commit write: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	monitoring.Logf("effstore: closing %s", s.path)
	return s.db.Close()
}

// encodeValues packs one sample's values as little-endian float64s.
func encodeValues(vals []float64) []byte {
	blob := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(blob[i*8:], math.Float64bits(v))
	}
	return blob
}

// decodeValues unpacks a sample blob, checking the expected width.
func decodeValues(blob []byte, width int) ([]float64, error) {
	if len(blob) != 8*width {
		return nil, fmt.Errorf("effstore: corrupt sample blob: %d bytes, want %d", len(blob), 8*width)
	}
	vals := make([]float64, width)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vals, nil
}
