// Package history persists per-attempt forwarding records to SQLite.
//
// The store is purely diagnostic: routing decisions never read it. Records
// are written asynchronously so a slow disk cannot stall the forwarding
// path, and a periodic prune keeps the file bounded.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at     INTEGER NOT NULL,
	service        TEXT    NOT NULL,
	provider_index INTEGER NOT NULL,
	provider       TEXT    NOT NULL,
	outcome        TEXT    NOT NULL,
	status         INTEGER NOT NULL,
	latency_ms     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_created_at ON attempts (created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_service ON attempts (service, created_at);
`

// writeQueueSize bounds the async write buffer. When full, records are
// dropped rather than blocking the request path.
const writeQueueSize = 256

// Attempt is one persisted forwarding attempt.
type Attempt struct {
	ID            int64
	CreatedAt     time.Time
	Service       string
	ProviderIndex int
	Provider      string
	Outcome       string
	Status        int
	LatencyMS     int64
}

// writeReq is either one record to insert or, when flush is set, a marker
// whose arrival proves every earlier record has been written.
type writeReq struct {
	attempt Attempt
	flush   chan struct{}
}

// Store writes and queries attempt records.
type Store struct {
	db     *sql.DB
	writes chan writeReq
	done   chan struct{}

	// mu guards closed. Senders hold the read lock across their send so
	// Close cannot close the channel under a record still in flight.
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the attempt database at path and starts
// the background writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection avoids lock
	// contention errors between the writer goroutine and readers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	s := &Store{
		db:     db,
		writes: make(chan writeReq, writeQueueSize),
		done:   make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

// RecordAttempt queues one attempt record. Satisfies the executor's
// recorder callback. Never blocks: if the queue is full the record is
// dropped and counted in the logs.
func (s *Store) RecordAttempt(svc registry.Service, providerIndex int, provider, outcome string, status int, latency time.Duration) {
	a := Attempt{
		CreatedAt:     time.Now(),
		Service:       string(svc),
		ProviderIndex: providerIndex,
		Provider:      provider,
		Outcome:       outcome,
		Status:        status,
		LatencyMS:     latency.Milliseconds(),
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.writes <- writeReq{attempt: a}:
	default:
		slog.Debug("history write queue full, dropping record", "service", a.Service)
	}
}

func (s *Store) writer() {
	defer close(s.done)
	for req := range s.writes {
		if req.flush != nil {
			close(req.flush)
			continue
		}
		a := req.attempt
		_, err := s.db.Exec(
			`INSERT INTO attempts (created_at, service, provider_index, provider, outcome, status, latency_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.CreatedAt.UnixMilli(), a.Service, a.ProviderIndex, a.Provider, a.Outcome, a.Status, a.LatencyMS,
		)
		if err != nil {
			slog.Warn("writing attempt record", "error", err)
		}
	}
}

// Recent returns the newest records for a service, newest first. A svc of
// "" returns records for all services.
func (s *Store) Recent(ctx context.Context, svc string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, created_at, service, provider_index, provider, outcome, status, latency_ms
	          FROM attempts`
	args := []any{}
	if svc != "" {
		query += ` WHERE service = ?`
		args = append(args, svc)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var createdMilli int64
		if err := rows.Scan(&a.ID, &createdMilli, &a.Service, &a.ProviderIndex, &a.Provider, &a.Outcome, &a.Status, &a.LatencyMS); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMilli)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentFailures returns the newest non-success attempts across all
// services, newest first. Backs the `status` command's failover digest.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, service, provider_index, provider, outcome, status, latency_ms
		 FROM attempts WHERE outcome != 'success' ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying failures: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var createdMilli int64
		if err := rows.Scan(&a.ID, &createdMilli, &a.Service, &a.ProviderIndex, &a.Provider, &a.Outcome, &a.Status, &a.LatencyMS); err != nil {
			return nil, fmt.Errorf("scanning failure row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMilli)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes records older than the retention period and reports how
// many were removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM attempts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning attempts: %w", err)
	}
	return res.RowsAffected()
}

// Flush blocks until every record queued before the call has been written.
// Used by tests and shutdown.
func (s *Store) Flush() {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	marker := make(chan struct{})
	s.writes <- writeReq{flush: marker}
	s.mu.RUnlock()
	<-marker
}

// Close stops the writer, draining queued records, and closes the
// database. Safe to call more than once; records arriving after Close are
// silently dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.writes)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}
