package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Heartbeat Lag Reader
// =============================================================================

const heartbeatSchema = `CREATE TABLE IF NOT EXISTS geodeploy_heartbeat (
	id INTEGER PRIMARY KEY,
	beat_at TEXT NOT NULL
)`

// HeartbeatLagReader measures lag by writing a timestamp to the primary and
// reading the replicated copy back from each secondary.
type HeartbeatLagReader struct {
	conns   map[string]*sqlx.DB
	primary func() string
	now     func() time.Time
}

// NewHeartbeatLagReader creates a lag reader over the given connections.
// primary returns the region currently accepting writes.
func NewHeartbeatLagReader(conns map[string]*sqlx.DB, primary func() string) *HeartbeatLagReader {
	return &HeartbeatLagReader{conns: conns, primary: primary, now: time.Now}
}

// Init creates the heartbeat table on every connection.
func (h *HeartbeatLagReader) Init(ctx context.Context) error {
	for region, db := range h.conns {
		if _, err := db.ExecContext(ctx, heartbeatSchema); err != nil {
			return fmt.Errorf("failed to create heartbeat table in %s: %w", region, err)
		}
	}
	return nil
}

// Beat writes the current time to the primary.
func (h *HeartbeatLagReader) Beat(ctx context.Context) error {
	primary := h.primary()
	db, ok := h.conns[primary]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConnection, primary)
	}
	query := db.Rebind(`INSERT INTO geodeploy_heartbeat (id, beat_at) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET beat_at = excluded.beat_at`)
	_, err := db.ExecContext(ctx, query, h.now().UTC().Format(time.RFC3339Nano))
	return err
}

// Lag returns how far the region's heartbeat trails the primary's.
func (h *HeartbeatLagReader) Lag(ctx context.Context, region string) (time.Duration, error) {
	primaryBeat, err := h.read(ctx, h.primary())
	if err != nil {
		return 0, err
	}
	replicaBeat, err := h.read(ctx, region)
	if err != nil {
		return 0, err
	}
	if replicaBeat.After(primaryBeat) {
		return 0, nil
	}
	return primaryBeat.Sub(replicaBeat), nil
}

func (h *HeartbeatLagReader) read(ctx context.Context, region string) (time.Time, error) {
	db, ok := h.conns[region]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoConnection, region)
	}
	var raw string
	err := db.GetContext(ctx, &raw, `SELECT beat_at FROM geodeploy_heartbeat WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat in %s: %w", region, err)
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// =============================================================================
// Static Lag Reader
// =============================================================================

// StaticLags is a settable lag table for simulated topologies.
type StaticLags struct {
	mu   sync.RWMutex
	lags map[string]time.Duration
}

// NewStaticLags creates a lag table.
func NewStaticLags() *StaticLags {
	return &StaticLags{lags: make(map[string]time.Duration)}
}

// Set records the lag of a region.
func (s *StaticLags) Set(region string, lag time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lags[region] = lag
}

// Lag returns the recorded lag, zero when unset.
func (s *StaticLags) Lag(ctx context.Context, region string) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lags[region], nil
}
