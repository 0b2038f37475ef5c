package exam

import (
	"errors"
	"testing"
)

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{
			name: "valid",
			snap: Snapshot{
				Answers:          map[int64]string{1: "A", 2: "d"},
				Flagged:          []int64{2, 3},
				CurrentQuestion:  1,
				RemainingSeconds: 300,
			},
		},
		{name: "empty", snap: Snapshot{}},
		{
			name:    "negative cursor",
			snap:    Snapshot{CurrentQuestion: -1},
			wantErr: true,
		},
		{
			name:    "negative remaining",
			snap:    Snapshot{RemainingSeconds: -5},
			wantErr: true,
		},
		{
			name:    "bad option letter",
			snap:    Snapshot{Answers: map[int64]string{1: "E"}},
			wantErr: true,
		},
		{
			name:    "bad question id",
			snap:    Snapshot{Answers: map[int64]string{0: "A"}},
			wantErr: true,
		},
		{
			name:    "duplicate flag",
			snap:    Snapshot{Flagged: []int64{4, 4}},
			wantErr: true,
		},
		{
			name:    "bad flagged id",
			snap:    Snapshot{Flagged: []int64{-1}},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snap.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrSnapshotInvalid) {
					t.Fatalf("expected ErrSnapshotInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected valid snapshot, got %v", err)
			}
		})
	}
}
