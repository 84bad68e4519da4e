package subarray

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radioastro/subarray-core/internal/sbi"
)

// Snapshot is the persistable current state of a controlled entity. Only
// the latest snapshot per entity is kept; there is no state history.
type Snapshot struct {
	ID            string               `json:"id"`
	PowerState    string               `json:"power_state"`
	ObsState      string               `json:"obs_state"`
	Activated     bool                 `json:"activated"`
	HealthState   string               `json:"health_state"`
	Block         *sbi.SchedulingBlock `json:"scheduling_block,omitempty"`
	ScanType      string               `json:"scan_type,omitempty"`
	ScanID        int64                `json:"scan_id,omitempty"`
	Committed     []string             `json:"committed,omitempty"`
	CommittedSBIs []string             `json:"committed_sbis,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// ErrSnapshotNotFound is returned when no snapshot exists for an entity.
var ErrSnapshotNotFound = errors.New("subarray: snapshot not found")

// SnapshotStore persists entity snapshots. Implementations must upsert on
// Save so each entity keeps exactly one row.
type SnapshotStore interface {
	// Save stores snap, replacing any previous snapshot for the same entity.
	Save(ctx context.Context, snap *Snapshot) error

	// Get retrieves the snapshot for the given entity id.
	// Returns ErrSnapshotNotFound if none exists.
	Get(ctx context.Context, id string) (*Snapshot, error)

	// List retrieves all stored snapshots.
	List(ctx context.Context) ([]Snapshot, error)
}

// SQLiteSnapshotStore implements SnapshotStore using SQLite.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore creates a new SQLite-backed snapshot store.
// The db parameter should be an open SQLite connection with the
// entity_snapshots migration applied.
func NewSQLiteSnapshotStore(db *sql.DB) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{db: db}
}

// Save stores snap, replacing any previous snapshot for the same entity.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	var blockJSON sql.NullString
	if snap.Block != nil {
		b, err := json.Marshal(snap.Block)
		if err != nil {
			return fmt.Errorf("marshalling scheduling block: %w", err)
		}
		blockJSON = sql.NullString{String: string(b), Valid: true}
	}

	committedJSON, err := json.Marshal(snap.Committed)
	if err != nil {
		return fmt.Errorf("marshalling committed ids: %w", err)
	}
	committedSBIsJSON, err := json.Marshal(snap.CommittedSBIs)
	if err != nil {
		return fmt.Errorf("marshalling committed sbi ids: %w", err)
	}

	query := `
		INSERT INTO entity_snapshots (
			id, power_state, obs_state, activated, health_state,
			scheduling_block, scan_type, scan_id, committed, committed_sbis,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			power_state = excluded.power_state,
			obs_state = excluded.obs_state,
			activated = excluded.activated,
			health_state = excluded.health_state,
			scheduling_block = excluded.scheduling_block,
			scan_type = excluded.scan_type,
			scan_id = excluded.scan_id,
			committed = excluded.committed,
			committed_sbis = excluded.committed_sbis,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		snap.PowerState,
		snap.ObsState,
		boolToInt(snap.Activated),
		snap.HealthState,
		blockJSON,
		snap.ScanType,
		snap.ScanID,
		string(committedJSON),
		string(committedSBIsJSON),
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot for the given entity id.
func (s *SQLiteSnapshotStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	query := `
		SELECT id, power_state, obs_state, activated, health_state,
			scheduling_block, scan_type, scan_id, committed, committed_sbis,
			updated_at
		FROM entity_snapshots
		WHERE id = ?`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	return snap, nil
}

// List retrieves all stored snapshots.
func (s *SQLiteSnapshotStore) List(ctx context.Context) ([]Snapshot, error) {
	query := `
		SELECT id, power_state, obs_state, activated, health_state,
			scheduling_block, scan_type, scan_id, committed, committed_sbis,
			updated_at
		FROM entity_snapshots
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snaps, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot scans one row into a Snapshot.
func scanSnapshot(scanner rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var activated int
	var blockJSON sql.NullString
	var committedJSON string
	var committedSBIsJSON string
	var updatedAt string

	err := scanner.Scan(
		&snap.ID,
		&snap.PowerState,
		&snap.ObsState,
		&activated,
		&snap.HealthState,
		&blockJSON,
		&snap.ScanType,
		&snap.ScanID,
		&committedJSON,
		&committedSBIsJSON,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.Activated = activated != 0

	if blockJSON.Valid && blockJSON.String != "" {
		var block sbi.SchedulingBlock
		if err := json.Unmarshal([]byte(blockJSON.String), &block); err != nil {
			return nil, fmt.Errorf("unmarshalling scheduling block: %w", err)
		}
		snap.Block = &block
	}

	if err := json.Unmarshal([]byte(committedJSON), &snap.Committed); err != nil {
		return nil, fmt.Errorf("unmarshalling committed ids: %w", err)
	}
	if err := json.Unmarshal([]byte(committedSBIsJSON), &snap.CommittedSBIs); err != nil {
		return nil, fmt.Errorf("unmarshalling committed sbi ids: %w", err)
	}

	snap.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &snap, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
