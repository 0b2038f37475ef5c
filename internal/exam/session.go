package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionForbidden  = errors.New("session forbidden")
	ErrSessionState      = errors.New("operation not allowed in current session state")
	ErrAnswerRequired    = errors.New("current question must be answered before advancing")
	ErrNoSuchQuestion    = errors.New("question index out of range")
	ErrQuestionNotInTest = errors.New("question not in test")
)

type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateInProgress SessionState = "in_progress"
	StatePaused     SessionState = "paused"
	StateCompleted  SessionState = "completed"
)

// attemptFinisher freezes an attempt's answers and produces its result.
// The session calls it exactly once per completed attempt; repeated
// calls must return the already-created result.
type attemptFinisher interface {
	FinalizeAttempt(ctx context.Context, attemptID int64, answers map[int64]string, timeTakenSecs int) (*Result, error)
}

// Session drives one attempt through
// not_started -> in_progress <-> paused -> completed. It owns the
// countdown timer and the in-memory answer tracker; nothing touches the
// database until pause (snapshot) or submit (finalize).
type Session struct {
	ID          string
	TestID      int64
	UserID      int64 // 0 for anonymous mock attempts
	AttemptID   int64
	clientToken string

	mu        sync.Mutex
	state     SessionState
	questions []Question
	duration  int // full duration in seconds
	answers   map[int64]string
	flagged   map[int64]struct{}
	current   int
	timer     *Countdown
	snapshots SnapshotStore // nil for anonymous sessions
	finisher  attemptFinisher
	result    *Result
	interval  time.Duration

	// onComplete fires once, on the transition to completed; the
	// service uses it to drop the session from the live registry.
	onComplete func()
}

type sessionConfig struct {
	ID        string
	TestID    int64
	UserID    int64
	AttemptID int64
	Questions []Question
	Duration  time.Duration
	Snapshots SnapshotStore
	Finisher  attemptFinisher
	tickEvery time.Duration
}

func newSession(cfg sessionConfig) *Session {
	s := &Session{
		ID:        cfg.ID,
		TestID:    cfg.TestID,
		UserID:    cfg.UserID,
		AttemptID: cfg.AttemptID,
		state:     StateNotStarted,
		questions: cfg.Questions,
		duration:  int(cfg.Duration.Seconds()),
		answers:   make(map[int64]string),
		flagged:   make(map[int64]struct{}),
		snapshots: cfg.Snapshots,
		finisher:  cfg.Finisher,
		interval:  cfg.tickEvery,
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}
	return s
}

func (s *Session) newTimer(seconds int) *Countdown {
	return newCountdownWithInterval(seconds, s.interval, s.autoSubmit)
}

// Start enters in_progress with a full timer and empty state. Restoring
// from a snapshot goes through Restore instead.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return fmt.Errorf("%w: start from %s", ErrSessionState, s.state)
	}
	s.answers = make(map[int64]string)
	s.flagged = make(map[int64]struct{})
	s.current = 0
	s.timer = s.newTimer(s.duration)
	s.timer.Start()
	s.state = StateInProgress
	return nil
}

// Restore enters in_progress from a validated snapshot, continuing the
// countdown from its remaining time.
func (s *Session) Restore(snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateNotStarted {
		return fmt.Errorf("%w: restore from %s", ErrSessionState, s.state)
	}

	s.answers = make(map[int64]string, len(snap.Answers))
	for qid, letter := range snap.Answers {
		s.answers[qid] = letter
	}
	s.flagged = make(map[int64]struct{}, len(snap.Flagged))
	for _, qid := range snap.Flagged {
		s.flagged[qid] = struct{}{}
	}
	s.current = snap.CurrentQuestion
	if s.current >= len(s.questions) {
		s.current = 0
	}
	s.timer = s.newTimer(snap.RemainingSeconds)
	s.timer.Start()
	s.state = StateInProgress
	return nil
}

// SetAnswer upserts the selected option for a question. The letter is
// not validated against the question's options here; grading handles
// mismatches at submit time.
func (s *Session) SetAnswer(questionID int64, letter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return fmt.Errorf("%w: answer in %s", ErrSessionState, s.state)
	}
	if !s.hasQuestion(questionID) {
		return ErrQuestionNotInTest
	}
	s.answers[questionID] = letter
	return nil
}

// ClearAnswer removes the entry entirely, reverting the question to
// unattempted rather than storing a blank marker.
func (s *Session) ClearAnswer(questionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return fmt.Errorf("%w: answer in %s", ErrSessionState, s.state)
	}
	if !s.hasQuestion(questionID) {
		return ErrQuestionNotInTest
	}
	delete(s.answers, questionID)
	return nil
}

// ToggleFlag flips review-flag membership, independent of answering.
func (s *Session) ToggleFlag(questionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return false, fmt.Errorf("%w: flag in %s", ErrSessionState, s.state)
	}
	if !s.hasQuestion(questionID) {
		return false, ErrQuestionNotInTest
	}
	if _, ok := s.flagged[questionID]; ok {
		delete(s.flagged, questionID)
		return false, nil
	}
	s.flagged[questionID] = struct{}{}
	return true, nil
}

// Next advances only when the current question has an answer. The
// navigator (GoTo) stays free so flagged-but-unanswered questions remain
// reachable.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrSessionState, s.state)
	}
	if s.current >= len(s.questions)-1 {
		return ErrNoSuchQuestion
	}
	if _, answered := s.answers[s.questions[s.current].ID]; !answered {
		return ErrAnswerRequired
	}
	s.current++
	return nil
}

func (s *Session) Prev() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrSessionState, s.state)
	}
	if s.current <= 0 {
		return ErrNoSuchQuestion
	}
	s.current--
	return nil
}

func (s *Session) GoTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInProgress {
		return fmt.Errorf("%w: navigate in %s", ErrSessionState, s.state)
	}
	if index < 0 || index >= len(s.questions) {
		return ErrNoSuchQuestion
	}
	s.current = index
	return nil
}

// Pause freezes the timer and synchronously persists a snapshot. If the
// save fails the session stays in_progress with its in-memory state
// intact so the caller can retry without losing answers.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInProgress {
		s.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", ErrSessionState, s.state)
	}
	s.timer.Pause()
	snap := s.snapshotLocked()
	store := s.snapshots
	userID, testID := s.UserID, s.TestID
	s.mu.Unlock()

	if store != nil {
		if err := store.Save(ctx, userID, testID, snap); err != nil {
			s.mu.Lock()
			if s.state == StateInProgress {
				s.timer.Resume()
			}
			s.mu.Unlock()
			return err
		}
	}

	s.mu.Lock()
	if s.state == StateInProgress {
		s.state = StatePaused
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrSessionState, s.state)
	}
	s.timer.Resume()
	s.state = StateInProgress
	return nil
}

// ExitAndSave re-persists the snapshot and leaves the session dormant in
// paused state. Idempotent with the save Pause already performed.
func (s *Session) ExitAndSave(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: exit from %s", ErrSessionState, s.state)
	}
	snap := s.snapshotLocked()
	store := s.snapshots
	userID, testID := s.UserID, s.TestID
	s.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Save(ctx, userID, testID, snap)
}

// Restart throws away all recorded state, clears any stored snapshot,
// and re-enters in_progress with a full timer.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInProgress && s.state != StatePaused && s.state != StateNotStarted {
		s.mu.Unlock()
		return fmt.Errorf("%w: restart from %s", ErrSessionState, s.state)
	}
	store := s.snapshots
	userID, testID := s.UserID, s.TestID
	s.mu.Unlock()

	if store != nil {
		if err := store.Clear(ctx, userID, testID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The lock was dropped for the Clear call; a submit (manual or
	// timer expiry) may have completed the session in the meantime.
	if s.state == StateCompleted {
		return fmt.Errorf("%w: restart from %s", ErrSessionState, s.state)
	}
	if s.timer != nil {
		s.timer.Cancel()
	}
	s.answers = make(map[int64]string)
	s.flagged = make(map[int64]struct{})
	s.current = 0
	s.timer = s.newTimer(s.duration)
	s.timer.Start()
	s.state = StateInProgress
	return nil
}

// Submit freezes the answers, grades the attempt, and completes the
// session. A second submit returns the already-created result. Manual
// submits only apply to a running session; a paused one must be resumed
// first.
func (s *Session) Submit(ctx context.Context) (*Result, error) {
	return s.submit(ctx, false)
}

func (s *Session) submit(ctx context.Context, expired bool) (*Result, error) {
	s.mu.Lock()
	if s.state == StateCompleted {
		result := s.result
		s.mu.Unlock()
		return result, nil
	}
	// The expiry path tolerates paused: the timer can fire just before
	// a pause lands, and the elapsed attempt must still be finalized.
	if s.state != StateInProgress && !(expired && s.state == StatePaused) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: submit from %s", ErrSessionState, s.state)
	}
	s.timer.Pause()
	answers := make(map[int64]string, len(s.answers))
	for qid, letter := range s.answers {
		answers[qid] = letter
	}
	timeTaken := s.duration - s.timer.Remaining()
	attemptID := s.AttemptID
	s.mu.Unlock()

	result, err := s.finisher.FinalizeAttempt(ctx, attemptID, answers, timeTaken)
	if err != nil {
		s.mu.Lock()
		if s.state == StateInProgress {
			s.timer.Resume()
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.timer.Cancel()
	s.state = StateCompleted
	s.result = result
	notify := s.onComplete
	s.onComplete = nil
	s.mu.Unlock()
	if notify != nil {
		notify()
	}
	return result, nil
}

// autoSubmit is the timer expiry path. The countdown fires at most once;
// a failed finalize is logged and retried by the next explicit submit.
func (s *Session) autoSubmit() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.submit(ctx, true); err != nil {
		log.Printf("auto-submit attempt %d: %v", s.AttemptID, err)
	}
}

func (s *Session) hasQuestion(questionID int64) bool {
	for _, q := range s.questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

// snapshotLocked must be called with s.mu held.
func (s *Session) snapshotLocked() Snapshot {
	answers := make(map[int64]string, len(s.answers))
	for qid, letter := range s.answers {
		answers[qid] = letter
	}
	flagged := make([]int64, 0, len(s.flagged))
	for _, q := range s.questions {
		if _, ok := s.flagged[q.ID]; ok {
			flagged = append(flagged, q.ID)
		}
	}
	remaining := 0
	if s.timer != nil {
		remaining = s.timer.Remaining()
	}
	return Snapshot{
		Answers:          answers,
		Flagged:          flagged,
		CurrentQuestion:  s.current,
		RemainingSeconds: remaining,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *Session) FlaggedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flagged)
}

// Snapshot returns a consistent copy of the current in-memory state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}
