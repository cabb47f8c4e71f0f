// Package retained is the node's retained memory: the few values that must
// survive the agent exiting for a restart or a sleep cycle. It is backed by
// the SQLite database and implements telemetry.Memory.
package retained

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/garge-node/internal/infrastructure/database"
	"github.com/nerrad567/garge-node/internal/telemetry"
)

// Counter names.
const (
	CounterBoots           = "boots"
	CounterSleeps          = "sleeps"
	CounterPublishFailures = "publish_failures"
)

// valueStagedVersion records the firmware version an update last staged.
const valueStagedVersion = "ota_staged_version"


// Store reads and writes retained memory.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// New returns a Store over a migrated database.
func New(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var (
	_ telemetry.Memory         = (*Store)(nil)
	_ telemetry.FailureCounter = (*Store)(nil)
)

// LoadChannel returns the snapshot saved for channel, if any.
func (s *Store) LoadChannel(ctx context.Context, channel string) (telemetry.Snapshot, bool, error) {
	var capacity, cursor, faults int
	err := s.db.QueryRowContext(ctx,
		"SELECT capacity, cursor, fault_count FROM channel_state WHERE channel = ?",
		channel,
	).Scan(&capacity, &cursor, &faults)
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Snapshot{}, false, nil
	}
	if err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("loading %s state: %w", channel, err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT slot, value FROM channel_samples WHERE channel = ? ORDER BY slot",
		channel,
	)
	if err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("loading %s samples: %w", channel, err)
	}
	defer rows.Close()

	values := make([]float64, capacity)
	seen := 0
	for rows.Next() {
		var slot int
		var v float64
		if err := rows.Scan(&slot, &v); err != nil {
			return telemetry.Snapshot{}, false, fmt.Errorf("scanning %s sample: %w", channel, err)
		}
		if slot < 0 || slot >= capacity {
			return telemetry.Snapshot{}, false, fmt.Errorf("%s: slot %d outside capacity %d", channel, slot, capacity)
		}
		values[slot] = v
		seen++
	}
	if err := rows.Err(); err != nil {
		return telemetry.Snapshot{}, false, fmt.Errorf("iterating %s samples: %w", channel, err)
	}
	if seen != capacity {
		return telemetry.Snapshot{}, false, fmt.Errorf("%s: %d of %d slots retained", channel, seen, capacity)
	}

	return telemetry.Snapshot{Values: values, Cursor: cursor, Faults: faults}, true, nil
}

// SaveChannel replaces the snapshot for channel.
func (s *Store) SaveChannel(ctx context.Context, channel string, snap telemetry.Snapshot) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM channel_samples WHERE channel = ?", channel); err != nil {
			return fmt.Errorf("clearing %s samples: %w", channel, err)
		}
		for slot, v := range snap.Values {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO channel_samples (channel, slot, value) VALUES (?, ?, ?)",
				channel, slot, v,
			); err != nil {
				return fmt.Errorf("saving %s slot %d: %w", channel, slot, err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO channel_state (channel, capacity, cursor, fault_count, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(channel) DO UPDATE SET
				capacity = excluded.capacity,
				cursor = excluded.cursor,
				fault_count = excluded.fault_count,
				updated_at = excluded.updated_at`,
			channel, len(snap.Values), snap.Cursor, snap.Faults,
			s.now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("saving %s state: %w", channel, err)
		}
		return nil
	})
}

// ClearChannels drops every channel snapshot.
func (s *Store) ClearChannels(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM channel_samples"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM channel_state")
		return err
	})
}

// Increment adds one to a named counter and returns the new value.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`, name,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("incrementing %s: %w", name, err)
	}
	return v, nil
}

// Counter returns a named counter, zero if never set.
func (s *Store) Counter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, nil
}

// ResetCounter sets a named counter back to zero.
func (s *Store) ResetCounter(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM counters WHERE name = ?", name); err != nil {
		return fmt.Errorf("resetting %s: %w", name, err)
	}
	return nil
}

// value returns a named text value and whether it has been set.
func (s *Store) value(ctx context.Context, name string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM retained_values WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", name, err)
	}
	return v, true, nil
}

func (s *Store) setValue(ctx context.Context, name, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retained_values (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, v, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// StagedVersion returns the firmware version the last update staged, or ""
// if none has been.
func (s *Store) StagedVersion(ctx context.Context) (string, error) {
	v, _, err := s.value(ctx, valueStagedVersion)
	return v, err
}

// SetStagedVersion records version as staged.
func (s *Store) SetStagedVersion(ctx context.Context, version string) error {
	return s.setValue(ctx, valueStagedVersion, version)
}
