package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memorySnapshotStore struct {
	mu      sync.Mutex
	saved   map[[2]int64]Snapshot
	saveErr error
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{saved: make(map[[2]int64]Snapshot)}
}

func (m *memorySnapshotStore) Save(ctx context.Context, userID, testID int64, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[[2]int64{userID, testID}] = snap
	return nil
}

func (m *memorySnapshotStore) Load(ctx context.Context, userID, testID int64) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.saved[[2]int64{userID, testID}]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return &snap, nil
}

func (m *memorySnapshotStore) Clear(ctx context.Context, userID, testID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, [2]int64{userID, testID})
	return nil
}

func (m *memorySnapshotStore) get(userID, testID int64) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.saved[[2]int64{userID, testID}]
	return snap, ok
}

type countingFinisher struct {
	mu      sync.Mutex
	calls   int
	err     error
	answers map[int64]string
}

func (f *countingFinisher) FinalizeAttempt(ctx context.Context, attemptID int64, answers map[int64]string, timeTakenSecs int) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	f.answers = answers
	return &Result{ID: 1, AttemptID: attemptID, TimeTakenSecs: timeTakenSecs}, nil
}

func (f *countingFinisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testQuestions(n int) []Question {
	out := make([]Question, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Question{ID: int64(100 + i), SeqNo: i + 1, CorrectOption: "A"})
	}
	return out
}

func testSession(t *testing.T, store SnapshotStore, finisher attemptFinisher) *Session {
	t.Helper()
	if finisher == nil {
		finisher = &countingFinisher{}
	}
	return newSession(sessionConfig{
		ID:        "sess-1",
		TestID:    7,
		UserID:    42,
		AttemptID: 99,
		Questions: testQuestions(3),
		Duration:  time.Hour,
		Snapshots: store,
		Finisher:  finisher,
		tickEvery: testTick,
	})
}

func TestSessionLifecycle(t *testing.T) {
	s := testSession(t, nil, nil)

	if s.State() != StateNotStarted {
		t.Fatalf("expected not_started, got %s", s.State())
	}
	if err := s.SetAnswer(100, "A"); !errors.Is(err, ErrSessionState) {
		t.Fatalf("answering before start should fail with state error, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != StateInProgress {
		t.Fatalf("expected in_progress, got %s", s.State())
	}
	if err := s.Start(); !errors.Is(err, ErrSessionState) {
		t.Fatalf("double start should fail, got %v", err)
	}

	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s.State() != StatePaused {
		t.Fatalf("expected paused, got %s", s.State())
	}
	if err := s.Pause(context.Background()); !errors.Is(err, ErrSessionState) {
		t.Fatalf("double pause should fail, got %v", err)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.State() != StateInProgress {
		t.Fatalf("expected in_progress after resume, got %s", s.State())
	}
}

func TestSessionNextRequiresAnswer(t *testing.T) {
	s := testSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Next(); !errors.Is(err, ErrAnswerRequired) {
		t.Fatalf("next on unanswered question should fail, got %v", err)
	}

	if err := s.SetAnswer(100, "B"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next after answering: %v", err)
	}
	if got := s.Snapshot().CurrentQuestion; got != 1 {
		t.Fatalf("expected current=1, got %d", got)
	}

	// Prev and GoTo move freely regardless of answers.
	if err := s.Prev(); err != nil {
		t.Fatalf("prev: %v", err)
	}
	if err := s.GoTo(2); err != nil {
		t.Fatalf("goto: %v", err)
	}
	if err := s.GoTo(3); !errors.Is(err, ErrNoSuchQuestion) {
		t.Fatalf("goto out of range should fail, got %v", err)
	}

	// Next at the last question has nowhere to go.
	if err := s.SetAnswer(102, "C"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Next(); !errors.Is(err, ErrNoSuchQuestion) {
		t.Fatalf("next past the end should fail, got %v", err)
	}
}

func TestSessionClearAnswerRemovesEntry(t *testing.T) {
	s := testSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.SetAnswer(100, "B"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.SetAnswer(100, "C"); err != nil {
		t.Fatalf("overwrite answer: %v", err)
	}
	if got := s.Snapshot().Answers[100]; got != "C" {
		t.Fatalf("expected overwritten answer C, got %q", got)
	}

	if err := s.ClearAnswer(100); err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	if _, ok := s.Snapshot().Answers[100]; ok {
		t.Fatalf("cleared answer must be removed, not blanked")
	}
	if s.AnsweredCount() != 0 {
		t.Fatalf("expected 0 answered, got %d", s.AnsweredCount())
	}

	if err := s.SetAnswer(999, "A"); !errors.Is(err, ErrQuestionNotInTest) {
		t.Fatalf("answering unknown question should fail, got %v", err)
	}
}

func TestSessionFlagIndependentOfAnswer(t *testing.T) {
	s := testSession(t, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	on, err := s.ToggleFlag(101)
	if err != nil || !on {
		t.Fatalf("expected flag on, got on=%v err=%v", on, err)
	}
	if err := s.SetAnswer(101, "D"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if s.FlaggedCount() != 1 {
		t.Fatalf("answering must not clear the flag")
	}
	if err := s.ClearAnswer(101); err != nil {
		t.Fatalf("clear answer: %v", err)
	}
	if s.FlaggedCount() != 1 {
		t.Fatalf("clearing the answer must not clear the flag")
	}

	off, err := s.ToggleFlag(101)
	if err != nil || off {
		t.Fatalf("expected flag off, got on=%v err=%v", off, err)
	}
}

func TestSessionPauseSavesSnapshot(t *testing.T) {
	store := newMemorySnapshotStore()
	s := testSession(t, store, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.SetAnswer(100, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := s.ToggleFlag(102); err != nil {
		t.Fatalf("toggle flag: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}

	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	snap, ok := store.get(42, 7)
	if !ok {
		t.Fatalf("pause should persist a snapshot")
	}
	if snap.Answers[100] != "A" || snap.CurrentQuestion != 1 {
		t.Fatalf("snapshot content mismatch: %+v", snap)
	}
	if len(snap.Flagged) != 1 || snap.Flagged[0] != 102 {
		t.Fatalf("snapshot flags mismatch: %+v", snap.Flagged)
	}

	frozen := s.Snapshot().RemainingSeconds
	time.Sleep(20 * testTick)
	if got := s.Snapshot().RemainingSeconds; got != frozen {
		t.Fatalf("paused session kept ticking: %d -> %d", frozen, got)
	}
}

func TestSessionPauseSaveFailureKeepsInProgress(t *testing.T) {
	store := newMemorySnapshotStore()
	store.saveErr = ErrSnapshotUnavailable
	s := testSession(t, store, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(100, "B"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	err := s.Pause(context.Background())
	if !errors.Is(err, ErrSnapshotUnavailable) {
		t.Fatalf("expected snapshot unavailable, got %v", err)
	}
	if s.State() != StateInProgress {
		t.Fatalf("failed pause must leave the session in_progress, got %s", s.State())
	}
	if got := s.Snapshot().Answers[100]; got != "B" {
		t.Fatalf("in-memory answers must survive a failed pause, got %q", got)
	}

	// Clearing the fault lets the retry succeed.
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("retry pause: %v", err)
	}
	if s.State() != StatePaused {
		t.Fatalf("expected paused after retry, got %s", s.State())
	}
}

func TestSessionRestoreFidelity(t *testing.T) {
	s := testSession(t, nil, nil)
	snap := Snapshot{
		Answers:          map[int64]string{100: "A", 102: "D"},
		Flagged:          []int64{102},
		CurrentQuestion:  2,
		RemainingSeconds: 120,
	}

	if err := s.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.State() != StateInProgress {
		t.Fatalf("expected in_progress, got %s", s.State())
	}

	got := s.Snapshot()
	if got.Answers[100] != "A" || got.Answers[102] != "D" || len(got.Answers) != 2 {
		t.Fatalf("restored answers mismatch: %+v", got.Answers)
	}
	if got.CurrentQuestion != 2 {
		t.Fatalf("expected current=2, got %d", got.CurrentQuestion)
	}
	if got.RemainingSeconds > 120 {
		t.Fatalf("restored timer must continue from snapshot, got %d", got.RemainingSeconds)
	}
}

func TestSessionRestoreRejectsInvalidSnapshot(t *testing.T) {
	s := testSession(t, nil, nil)
	err := s.Restore(Snapshot{RemainingSeconds: -1})
	if !errors.Is(err, ErrSnapshotInvalid) {
		t.Fatalf("expected invalid snapshot error, got %v", err)
	}
	if s.State() != StateNotStarted {
		t.Fatalf("failed restore must not change state, got %s", s.State())
	}
}

func TestSessionRestartResetsEverything(t *testing.T) {
	store := newMemorySnapshotStore()
	s := testSession(t, store, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(100, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := s.ToggleFlag(101); err != nil {
		t.Fatalf("toggle flag: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	if s.State() != StateInProgress {
		t.Fatalf("expected in_progress after restart, got %s", s.State())
	}
	snap := s.Snapshot()
	if len(snap.Answers) != 0 || len(snap.Flagged) != 0 || snap.CurrentQuestion != 0 {
		t.Fatalf("restart must clear all progress: %+v", snap)
	}
	if snap.RemainingSeconds != 3600 {
		t.Fatalf("restart must rearm the full duration, got %d", snap.RemainingSeconds)
	}
	if _, ok := store.get(42, 7); ok {
		t.Fatalf("restart must clear the stored snapshot")
	}
}

// blockingClearStore parks Clear until released so tests can interleave
// another operation while a restart is mid-flight.
type blockingClearStore struct {
	*memorySnapshotStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClearStore) Clear(ctx context.Context, userID, testID int64) error {
	close(b.entered)
	<-b.release
	return b.memorySnapshotStore.Clear(ctx, userID, testID)
}

func TestSessionRestartLosesRaceToSubmit(t *testing.T) {
	store := &blockingClearStore{
		memorySnapshotStore: newMemorySnapshotStore(),
		entered:             make(chan struct{}),
		release:             make(chan struct{}),
	}
	finisher := &countingFinisher{}
	s := testSession(t, store, finisher)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(100, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	restartErr := make(chan error, 1)
	go func() { restartErr <- s.Restart(context.Background()) }()
	<-store.entered

	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	close(store.release)

	if err := <-restartErr; !errors.Is(err, ErrSessionState) {
		t.Fatalf("restart racing a submit must fail with state error, got %v", err)
	}
	if s.State() != StateCompleted {
		t.Fatalf("completed session must stay completed, got %s", s.State())
	}
	if finisher.callCount() != 1 {
		t.Fatalf("finalize must run once, ran %d times", finisher.callCount())
	}
	if got := s.Snapshot().Answers[100]; got != "A" {
		t.Fatalf("restart must not wipe the submitted answers, got %q", got)
	}
}

func TestSessionSubmitRejectedWhilePaused(t *testing.T) {
	finisher := &countingFinisher{}
	s := testSession(t, nil, finisher)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(100, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := s.Submit(context.Background()); !errors.Is(err, ErrSessionState) {
		t.Fatalf("manual submit while paused should fail, got %v", err)
	}
	if finisher.callCount() != 0 {
		t.Fatalf("rejected submit must not finalize, ran %d times", finisher.callCount())
	}
	if s.State() != StatePaused {
		t.Fatalf("rejected submit must leave the session paused, got %s", s.State())
	}

	// The expiry path still finalizes a paused session: the timer can
	// fire just before the pause lands.
	if _, err := s.submit(context.Background(), true); err != nil {
		t.Fatalf("expiry submit from paused: %v", err)
	}
	if s.State() != StateCompleted || finisher.callCount() != 1 {
		t.Fatalf("expiry submit must complete the attempt, state=%s calls=%d", s.State(), finisher.callCount())
	}
}

func TestCompletedSessionEvictedFromRegistry(t *testing.T) {
	svc := &Service{registry: NewRegistry(), retainCompleted: 5 * time.Millisecond}
	s := testSession(t, nil, nil)
	svc.watchCompletion(s)
	svc.registry.Put(s)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := svc.registry.Get(s.ID)
		return !ok
	})
	if _, ok := svc.registry.GetByUserTest(s.UserID, s.TestID); ok {
		t.Fatalf("completed session must also leave the user index")
	}
}

func TestSessionSubmitIdempotent(t *testing.T) {
	finisher := &countingFinisher{}
	s := testSession(t, nil, finisher)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SetAnswer(100, "A"); err != nil {
		t.Fatalf("set answer: %v", err)
	}

	first, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.State() != StateCompleted {
		t.Fatalf("expected completed, got %s", s.State())
	}
	if finisher.answers[100] != "A" {
		t.Fatalf("finisher did not receive the frozen answers")
	}

	second, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("repeat submit: %v", err)
	}
	if finisher.callCount() != 1 {
		t.Fatalf("finalize must run once, ran %d times", finisher.callCount())
	}
	if first != second {
		t.Fatalf("repeat submit must return the same result")
	}

	if err := s.SetAnswer(100, "B"); !errors.Is(err, ErrSessionState) {
		t.Fatalf("answering after completion should fail, got %v", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrSessionState) {
		t.Fatalf("resuming a completed session should fail, got %v", err)
	}
}

func TestSessionSubmitFailureRecovers(t *testing.T) {
	finisher := &countingFinisher{err: errors.New("db offline")}
	s := testSession(t, nil, finisher)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := s.Submit(context.Background()); err == nil {
		t.Fatalf("expected submit failure")
	}
	if s.State() != StateInProgress {
		t.Fatalf("failed submit must leave the session in_progress, got %s", s.State())
	}

	finisher.mu.Lock()
	finisher.err = nil
	finisher.mu.Unlock()
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if s.State() != StateCompleted {
		t.Fatalf("expected completed after retry, got %s", s.State())
	}
}

func TestSessionTimerExpiryAutoSubmitsOnce(t *testing.T) {
	finisher := &countingFinisher{}
	s := newSession(sessionConfig{
		ID:        "sess-exp",
		TestID:    7,
		UserID:    42,
		AttemptID: 55,
		Questions: testQuestions(2),
		Duration:  3 * time.Second,
		Finisher:  finisher,
		tickEvery: testTick,
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return s.State() == StateCompleted })

	time.Sleep(20 * testTick)
	if finisher.callCount() != 1 {
		t.Fatalf("expiry must auto-submit exactly once, got %d", finisher.callCount())
	}

	result, err := s.Submit(context.Background())
	if err != nil || result == nil {
		t.Fatalf("submit after auto-submit should return the stored result, got %v %v", result, err)
	}
	if finisher.callCount() != 1 {
		t.Fatalf("manual submit after expiry must not refinalize")
	}
}
