package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store represents the SQLite run ledger.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{BusyTimeoutMs: 5000, MaxConnections: 1})
}

// OpenWithOptions is Open with explicit connection settings.
func OpenWithOptions(path string, opts Options) (*Store, error) {
	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d", path, opts.BusyTimeoutMs)
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if memory || opts.MaxConnections < 1 {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxConnections)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("store closed")
	}
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for migrations tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertRun records a run. An empty ID is filled with a new UUID and a
// zero StartedAt with the current time.
func (s *Store) InsertRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}

	reasons, err := json.Marshal(nonNil(r.Reasons))
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, source, digest, started_ns, outcome, reasons, accuracy, search_time, human_likelihood, samples, drag_attempts, discarded, resets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, nullString(r.Digest), r.StartedAt.UnixNano(), r.Outcome, string(reasons),
		r.Accuracy, nullFloat(r.SearchTime), r.HumanLikelihood, r.Samples, r.DragAttempts, r.Discarded, r.Resets,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, source, digest, started_ns, outcome, reasons, accuracy, search_time, human_likelihood, samples, drag_attempts, discarded, resets`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		digest     sql.NullString
		startedNs  int64
		reasons    string
		searchTime sql.NullFloat64
	)
	if err := row.Scan(&r.ID, &r.Source, &digest, &startedNs, &r.Outcome, &reasons,
		&r.Accuracy, &searchTime, &r.HumanLikelihood, &r.Samples, &r.DragAttempts, &r.Discarded, &r.Resets); err != nil {
		return nil, err
	}

	r.Digest = digest.String
	r.StartedAt = time.Unix(0, startedNs)
	r.SearchTime = math.NaN()
	if searchTime.Valid {
		r.SearchTime = searchTime.Float64
	}
	if err := json.Unmarshal([]byte(reasons), &r.Reasons); err != nil {
		return nil, fmt.Errorf("decode reasons: %w", err)
	}
	if len(r.Reasons) == 0 {
		r.Reasons = nil
	}
	return &r, nil
}

// GetRun retrieves a run by ID. It returns nil, nil when there is none.
func (s *Store) GetRun(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns
// every run.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_ns DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// HasDigest reports whether a recording with this digest was already
// replayed.
func (s *Store) HasDigest(digest string) (bool, error) {
	if digest == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE digest = ?`, digest).Scan(&n); err != nil {
		return false, fmt.Errorf("check digest: %w", err)
	}
	return n > 0, nil
}

// Stats aggregates the ledger by outcome and gate reason.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{
		ByOutcome: make(map[string]int),
		ByReason:  make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		st.ByOutcome[outcome] = n
		st.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var mean sql.NullFloat64
	if err := s.db.QueryRow(`SELECT AVG(accuracy) FROM runs WHERE outcome IN ('accepted', 'rejected')`).Scan(&mean); err != nil {
		return nil, fmt.Errorf("mean accuracy: %w", err)
	}
	st.MeanAccuracy = mean.Float64

	rows, err = s.db.Query(`SELECT reasons FROM runs WHERE reasons != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("count reasons: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan reasons: %w", err)
		}
		var reasons []string
		if err := json.Unmarshal([]byte(raw), &reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
		for _, r := range reasons {
			st.ByReason[r]++
		}
	}
	return st, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}
