package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/mattn/go-sqlite3"

	apperrors "spxopt/internal/errors"
	"spxopt/internal/models"
)

// SQLiteStore holds the snapshot database. Each underlying gets its own table.
type SQLiteStore struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	repos map[string]*OptionsRepository
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", apperrors.ErrDatabaseError, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to open database: %v", apperrors.ErrDatabaseError, err)
	}

	return &SQLiteStore{
		db:    db,
		path:  dbPath,
		repos: make(map[string]*OptionsRepository),
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Options returns the snapshot repository for underlying.
func (s *SQLiteStore) Options(underlying string) (*OptionsRepository, error) {
	table, err := TableName(underlying)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[underlying]; ok {
		return r, nil
	}
	r := &OptionsRepository{db: s.db, underlying: underlying, table: table}
	s.repos[underlying] = r
	return r, nil
}

// OptionsRepository reads and writes the snapshot table of one underlying.
type OptionsRepository struct {
	db         *sql.DB
	underlying string
	table      string

	schemaMu sync.Mutex
	schemaOK bool
}

// Underlying returns the repository's underlying symbol.
func (r *OptionsRepository) Underlying() string {
	return r.underlying
}

// EnsureSchema creates the snapshot table and its index if they do not exist.
// A failed attempt is retried on the next call.
func (r *OptionsRepository) EnsureSchema(ctx context.Context) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if r.schemaOK {
		return nil
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		expiration_date TEXT NOT NULL,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL CHECK (option_type IN ('C', 'P')),
		bid REAL NOT NULL DEFAULT 0,
		ask REAL NOT NULL DEFAULT 0,
		last REAL NOT NULL DEFAULT 0,
		volume INTEGER NOT NULL DEFAULT 0,
		open_interest INTEGER NOT NULL DEFAULT 0,
		delta REAL,
		snapshot_utc DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_contract
		ON %[1]s(expiration_date, strike, option_type, snapshot_utc);
	`, r.table)

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: creating %s: %v", apperrors.ErrDatabaseError, r.table, err)
	}
	r.schemaOK = true
	return nil
}

// InsertSnapshots stores one chain snapshot in a single transaction and
// returns the number of rows written.
func (r *OptionsRepository) InsertSnapshots(ctx context.Context, quotes []models.Quote, snapshotUTC time.Time) (int, error) {
	if len(quotes) == 0 {
		return 0, nil
	}
	if err := r.EnsureSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (expiration_date, strike, option_type, bid, ask, last, volume, open_interest, delta, snapshot_utc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	ts := snapshotUTC.UTC()
	for _, q := range quotes {
		var delta sql.NullFloat64
		if q.Delta != nil {
			delta = sql.NullFloat64{Float64: *q.Delta, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			q.Expiration.String(), q.Strike, string(q.Right),
			q.Bid, q.Ask, q.Last, q.Volume, q.OpenInterest, delta, ts)
		if err != nil {
			return 0, fmt.Errorf("failed to insert snapshot %s: %w", q.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return len(quotes), nil
}

// PriceHistory returns every stored snapshot of one contract, oldest first.
func (r *OptionsRepository) PriceHistory(ctx context.Context, expiration civil.Date, strike float64, right models.Right) ([]models.PricePoint, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT snapshot_utc, bid, ask, last
		FROM %s
		WHERE expiration_date = ? AND strike = ? AND option_type = ?
		ORDER BY snapshot_utc ASC
	`, r.table), expiration.String(), strike, string(right))
	if err != nil {
		return nil, apperrors.NewDataError("price history", r.Underlying(), "query failed", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.SnapshotUTC, &p.Bid, &p.Ask, &p.Last); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		p.SnapshotUTC = p.SnapshotUTC.UTC()
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price history: %w", err)
	}

	return points, nil
}

// Expirations returns the distinct stored expirations in ascending order.
func (r *OptionsRepository) Expirations(ctx context.Context) ([]civil.Date, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT expiration_date FROM %s ORDER BY expiration_date
	`, r.table))
	if err != nil {
		return nil, apperrors.NewDataError("expirations", r.Underlying(), "query failed", err)
	}
	defer rows.Close()

	var dates []civil.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan expiration: %w", err)
		}
		d, err := civil.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad expiration %q in %s", apperrors.ErrDatabaseError, s, r.table)
		}
		dates = append(dates, d)
	}

	return dates, rows.Err()
}

// Strikes returns the distinct strikes stored for expiration in ascending order.
func (r *OptionsRepository) Strikes(ctx context.Context, expiration civil.Date) ([]float64, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT strike FROM %s WHERE expiration_date = ? ORDER BY strike
	`, r.table), expiration.String())
	if err != nil {
		return nil, apperrors.NewDataError("strikes", r.Underlying(), "query failed", err)
	}
	defer rows.Close()

	var strikes []float64
	for rows.Next() {
		var k float64
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan strike: %w", err)
		}
		strikes = append(strikes, k)
	}

	return strikes, rows.Err()
}

// LatestChain returns the most recent stored snapshot of an expiration's chain
// and when it was taken. The chain is empty when nothing is stored.
func (r *OptionsRepository) LatestChain(ctx context.Context, expiration civil.Date) ([]models.Quote, time.Time, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return nil, time.Time{}, err
	}

	var latest time.Time
	err := r.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT snapshot_utc FROM %s WHERE expiration_date = ?
		ORDER BY snapshot_utc DESC LIMIT 1
	`, r.table), expiration.String()).Scan(&latest)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, apperrors.NewDataError("chain", r.Underlying(), "latest snapshot query failed", err)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT strike, option_type, bid, ask, last, volume, open_interest, delta
		FROM %s
		WHERE expiration_date = ? AND snapshot_utc = ?
		ORDER BY option_type, strike
	`, r.table), expiration.String(), latest)
	if err != nil {
		return nil, time.Time{}, apperrors.NewDataError("chain", r.Underlying(), "query failed", err)
	}
	defer rows.Close()

	var quotes []models.Quote
	for rows.Next() {
		q := models.Quote{Expiration: expiration}
		var right string
		var delta sql.NullFloat64
		if err := rows.Scan(&q.Strike, &right, &q.Bid, &q.Ask, &q.Last, &q.Volume, &q.OpenInterest, &delta); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.Right = models.Right(right)
		if delta.Valid {
			d := delta.Float64
			q.Delta = &d
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error iterating chain: %w", err)
	}

	return quotes, latest.UTC(), nil
}
