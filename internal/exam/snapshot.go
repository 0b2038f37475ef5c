package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSnapshotNotFound    = errors.New("snapshot not found")
	ErrSnapshotInvalid     = errors.New("snapshot payload invalid")
	ErrSnapshotUnavailable = errors.New("snapshot store unavailable")
)

// Snapshot is the resumable capture of an in-progress attempt: the full
// answers map, the flagged set, the cursor, and the remaining time. The
// caller always writes the complete state, never a delta.
type Snapshot struct {
	Answers          map[int64]string `json:"answers"`
	Flagged          []int64          `json:"flagged"`
	CurrentQuestion  int              `json:"current_question"`
	RemainingSeconds int              `json:"remaining_seconds"`
}

func (s Snapshot) Validate() error {
	if s.CurrentQuestion < 0 {
		return fmt.Errorf("%w: negative current_question", ErrSnapshotInvalid)
	}
	if s.RemainingSeconds < 0 {
		return fmt.Errorf("%w: negative remaining_seconds", ErrSnapshotInvalid)
	}
	for qid, letter := range s.Answers {
		if qid <= 0 {
			return fmt.Errorf("%w: bad question id %d", ErrSnapshotInvalid, qid)
		}
		switch strings.ToUpper(strings.TrimSpace(letter)) {
		case "A", "B", "C", "D":
		default:
			return fmt.Errorf("%w: bad option %q for question %d", ErrSnapshotInvalid, letter, qid)
		}
	}
	seen := make(map[int64]struct{}, len(s.Flagged))
	for _, qid := range s.Flagged {
		if qid <= 0 {
			return fmt.Errorf("%w: bad flagged question id %d", ErrSnapshotInvalid, qid)
		}
		if _, dup := seen[qid]; dup {
			return fmt.Errorf("%w: duplicate flagged question %d", ErrSnapshotInvalid, qid)
		}
		seen[qid] = struct{}{}
	}
	return nil
}

// SnapshotStore persists at most one snapshot per (user, test) key.
// Save is an idempotent upsert; repeated saves with identical arguments
// load back unchanged.
type SnapshotStore interface {
	Save(ctx context.Context, userID, testID int64, snap Snapshot) error
	Load(ctx context.Context, userID, testID int64) (*Snapshot, error)
	Clear(ctx context.Context, userID, testID int64) error
}

type PGSnapshotStore struct {
	db *sql.DB
}

func NewPGSnapshotStore(db *sql.DB) *PGSnapshotStore {
	return &PGSnapshotStore{db: db}
}

func (s *PGSnapshotStore) Save(ctx context.Context, userID, testID int64, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO progress_snapshots (user_id, test_id, payload, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (user_id, test_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, userID, testID, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	return nil
}

func (s *PGSnapshotStore) Load(ctx context.Context, userID, testID int64) (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload
		FROM progress_snapshots
		WHERE user_id = $1 AND test_id = $2
	`, userID, testID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
	}
	if snap.Answers == nil {
		snap.Answers = map[int64]string{}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PGSnapshotStore) Clear(ctx context.Context, userID, testID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM progress_snapshots
		WHERE user_id = $1 AND test_id = $2
	`, userID, testID); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	return nil
}
