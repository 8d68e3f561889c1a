// Package storage journals vault events and compounding cycles to SQLite so
// operators can audit activity after the in-memory event log is gone.
package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"lukechampine.com/blake3"

	"autocompounder/core/events"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("vaultd storage path must be configured")

const defaultListLimit = 100

// Journal persists emitted vault events. It implements events.Emitter so it
// can be wired as the controller's downstream emitter. Every event row
// carries a BLAKE3 digest chained to the previous row so tampering with the
// history is detectable through Verify.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
	clock  func() time.Time
}

var _ events.Emitter = (*Journal)(nil)

// Entry is a journaled event.
type Entry struct {
	ID         int64             `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Verification reports the outcome of walking the digest chain.
type Verification struct {
	Intact bool   `json:"intact"`
	Events int    `json:"events"`
	Head   string `json:"head,omitempty"`
	// BrokenAt is the first event whose digest does not match its contents.
	BrokenAt int64 `json:"brokenAt,omitempty"`
}

// Cycle is a journaled compounding cycle.
type Cycle struct {
	CycleID     string    `json:"cycleId"`
	Cycle       uint64    `json:"cycle"`
	Reward      string    `json:"reward"`
	AddedStable string    `json:"addedStable"`
	AddedLP     string    `json:"addedLP"`
	Depositors  int       `json:"depositors"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Open initialises the journal using a sqlite-compatible DSN.
func Open(dsn string, logger *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, clock: time.Now}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements events.Emitter. Write failures are logged; the event has
// already taken effect in the vault.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if err := j.Record(context.Background(), evt); err != nil {
		j.logger.Error("vaultd: journal event", "type", evt.EventType(), "error", err)
	}
}

// Record persists evt, and its cycle summary for compound events.
func (j *Journal) Record(ctx context.Context, evt events.Event) error {
	if j == nil {
		return fmt.Errorf("storage not configured")
	}
	payload := evt.Event()
	if payload == nil {
		return fmt.Errorf("event %s has no payload", evt.EventType())
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	now := j.clock().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT digest FROM vault_events ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load chain head: %w", err)
	}
	digest, err := chainDigest(prev, payload.Type, string(attrs))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO vault_events(type, attributes, digest, recorded_at)
        VALUES(?, ?, ?, ?)
    `, payload.Type, string(attrs), digest, now); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if compound, ok := evt.(events.VaultCompound); ok {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO compound_cycles(cycle_id, cycle, reward, added_stable, added_lp, depositors, recorded_at)
            VALUES(?, ?, ?, ?, ?, ?, ?)
        `, payload.Attributes["cycleId"], strconv.FormatUint(compound.Cycle, 10),
			payload.Attributes["reward"], payload.Attributes["addedStable"], payload.Attributes["addedLP"],
			compound.Depositors, now); err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Events returns journaled events newest first, optionally filtered by type.
func (j *Journal) Events(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	if j == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, type, attributes, digest, recorded_at FROM vault_events`
	args := []interface{}{}
	if trimmed := strings.TrimSpace(eventType); trimmed != "" {
		query += ` WHERE type = ?`
		args = append(args, trimmed)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var entry Entry
		var attrs string
		if err := rows.Scan(&entry.ID, &entry.Type, &attrs, &entry.Digest, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Cycles returns journaled compounding cycles newest first.
func (j *Journal) Cycles(ctx context.Context, limit int) ([]Cycle, error) {
	if j == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT cycle_id, cycle, reward, added_stable, added_lp, depositors, recorded_at
        FROM compound_cycles
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()
	var out []Cycle
	for rows.Next() {
		var cycle Cycle
		var number string
		if err := rows.Scan(&cycle.CycleID, &number, &cycle.Reward, &cycle.AddedStable, &cycle.AddedLP, &cycle.Depositors, &cycle.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycle.Cycle, err = strconv.ParseUint(number, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cycle number: %w", err)
		}
		out = append(out, cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

// Verify recomputes the digest chain from the first event and reports the
// first row that does not match.
func (j *Journal) Verify(ctx context.Context) (Verification, error) {
	if j == nil {
		return Verification{}, fmt.Errorf("storage not configured")
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, type, attributes, digest FROM vault_events ORDER BY id ASC`)
	if err != nil {
		return Verification{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	result := Verification{Intact: true}
	prev := ""
	for rows.Next() {
		var (
			id                    int64
			eventType, attrs, got string
		)
		if err := rows.Scan(&id, &eventType, &attrs, &got); err != nil {
			return Verification{}, fmt.Errorf("scan event: %w", err)
		}
		want, err := chainDigest(prev, eventType, attrs)
		if err != nil {
			return Verification{}, err
		}
		if want != got {
			result.Intact = false
			result.BrokenAt = id
			return result, nil
		}
		result.Events++
		result.Head = got
		prev = got
	}
	if err := rows.Err(); err != nil {
		return Verification{}, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func chainDigest(prev, eventType, attrs string) (string, error) {
	var prevBytes []byte
	if prev != "" {
		decoded, err := hex.DecodeString(prev)
		if err != nil {
			return "", fmt.Errorf("decode chain digest: %w", err)
		}
		prevBytes = decoded
	}
	h := blake3.New(32, nil)
	h.Write(prevBytes)
	h.Write([]byte{0})
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attrs))
	return hex.EncodeToString(h.Sum(nil)), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS vault_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    digest TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(type);
CREATE TABLE IF NOT EXISTS compound_cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id TEXT NOT NULL UNIQUE,
    cycle TEXT NOT NULL,
    reward TEXT NOT NULL,
    added_stable TEXT NOT NULL,
    added_lp TEXT NOT NULL,
    depositors INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
`
