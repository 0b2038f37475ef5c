package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTestNotFound    = errors.New("test not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrResultNotFound  = errors.New("result not found")
)

type Test struct {
	ID              int64         `json:"id"`
	Title           string        `json:"title"`
	DurationMinutes int           `json:"duration_minutes"`
	ScoringPolicy   ScoringPolicy `json:"scoring_policy"`
	Questions       []Question    `json:"questions"`
}

type Question struct {
	ID            int64   `json:"id"`
	SeqNo         int     `json:"seq_no"`
	Prompt        string  `json:"prompt"`
	OptionA       string  `json:"option_a"`
	OptionB       string  `json:"option_b"`
	OptionC       string  `json:"option_c"`
	OptionD       string  `json:"option_d"`
	CorrectOption string  `json:"-"`
	Explanation   *string `json:"-"`
}

type Result struct {
	ID              int64     `json:"id"`
	AttemptID       int64     `json:"attempt_id"`
	TestID          int64     `json:"test_id"`
	UserID          *int64    `json:"user_id,omitempty"`
	TotalQuestions  int       `json:"total_questions"`
	CorrectCount    int       `json:"correct_count"`
	WrongCount      int       `json:"wrong_count"`
	UnansweredCount int       `json:"unanswered_count"`
	Score           int       `json:"score"`
	Percentage      int       `json:"percentage"`
	Rank            int       `json:"rank"`
	TimeTakenSecs   int       `json:"time_taken_secs"`
	CreatedAt       time.Time `json:"created_at"`
}

type AttemptResult struct {
	Result Result         `json:"result"`
	Items  []GradedAnswer `json:"items"`
}

type SessionView struct {
	ID               string           `json:"id"`
	TestID           int64            `json:"test_id"`
	AttemptID        int64            `json:"attempt_id"`
	ClientToken      string           `json:"client_token,omitempty"`
	State            SessionState     `json:"state"`
	TotalQuestions   int              `json:"total_questions"`
	CurrentQuestion  int              `json:"current_question"`
	RemainingSeconds int              `json:"remaining_seconds"`
	AnsweredCount    int              `json:"answered_count"`
	FlaggedCount     int              `json:"flagged_count"`
	Answers          map[int64]string `json:"answers"`
	Flagged          []int64          `json:"flagged"`
	ResumeAvailable  bool             `json:"resume_available"`
	Questions        []Question       `json:"questions"`
	Result           *Result          `json:"result,omitempty"`
}

type Service struct {
	db                 *sql.DB
	snapshots          SnapshotStore
	registry           *Registry
	defaultTestMinutes int
	tickEvery          time.Duration
	retainCompleted    time.Duration
}

func NewService(db *sql.DB, defaultTestMinutes int) *Service {
	if defaultTestMinutes <= 0 {
		defaultTestMinutes = 30
	}
	return &Service{
		db:                 db,
		snapshots:          NewPGSnapshotStore(db),
		registry:           NewRegistry(),
		defaultTestMinutes: defaultTestMinutes,
		tickEvery:          time.Second,
		retainCompleted:    time.Minute,
	}
}

// watchCompletion schedules a completed session's eviction from the
// registry. The short retention window lets an in-flight duplicate
// submit still find the cached result; afterwards results come from the
// attempts endpoint.
func (s *Service) watchCompletion(sess *Session) {
	sess.onComplete = func() {
		time.AfterFunc(s.retainCompleted, func() {
			s.registry.Remove(sess.ID)
		})
	}
}

func (s *Service) LoadTest(ctx context.Context, testID int64) (*Test, error) {
	t := &Test{}
	var policy string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, duration_minutes, scoring_policy
		FROM tests
		WHERE id = $1 AND is_active = TRUE
	`, testID).Scan(&t.ID, &t.Title, &t.DurationMinutes, &policy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}

	t.ScoringPolicy, err = ParseScoringPolicy(policy)
	if err != nil {
		t.ScoringPolicy = PolicyPercentage
	}
	if t.DurationMinutes <= 0 {
		t.DurationMinutes = s.defaultTestMinutes
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.SeqNo, &q.Prompt, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		t.Questions = append(t.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return t, nil
}

// StartSession opens (or returns the already-live) session for a user
// and test. If a stored snapshot exists the session stays not_started
// and the view reports resume_available so the client can choose
// between resume and restart. Anonymous users (userID 0) always start
// fresh and are never persisted.
func (s *Service) StartSession(ctx context.Context, testID, userID int64) (*SessionView, error) {
	if userID > 0 {
		if live, ok := s.registry.GetByUserTest(userID, testID); ok && live.State() != StateCompleted {
			return s.buildView(live, live.State() == StateNotStarted), nil
		}
	}

	test, err := s.LoadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	attemptID, clientToken, err := s.openAttempt(ctx, testID, userID)
	if err != nil {
		return nil, err
	}

	cfg := sessionConfig{
		ID:        uuid.NewString(),
		TestID:    testID,
		UserID:    userID,
		AttemptID: attemptID,
		Questions: test.Questions,
		Duration:  time.Duration(test.DurationMinutes) * time.Minute,
		Finisher:  s,
		tickEvery: s.tickEvery,
	}
	if userID > 0 {
		cfg.Snapshots = s.snapshots
	}
	sess := newSession(cfg)
	sess.clientToken = clientToken
	s.watchCompletion(sess)

	resumeAvailable := false
	if userID > 0 {
		if _, err := s.snapshots.Load(ctx, userID, testID); err == nil {
			resumeAvailable = true
		} else if !errors.Is(err, ErrSnapshotNotFound) {
			return nil, err
		}
	}
	if !resumeAvailable {
		if err := sess.Start(); err != nil {
			return nil, err
		}
	}

	s.registry.Put(sess)
	return s.buildView(sess, resumeAvailable), nil
}

// openAttempt reuses the in-progress attempt for (user, test) or
// creates one. Anonymous attempts get a client token instead of a user.
func (s *Service) openAttempt(ctx context.Context, testID, userID int64) (int64, string, error) {
	if userID > 0 {
		var attemptID int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id
			FROM attempts
			WHERE test_id = $1 AND user_id = $2 AND status = 'in_progress'
		`, testID, userID).Scan(&attemptID)
		if err == nil {
			return attemptID, "", nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, "", fmt.Errorf("query attempt: %w", err)
		}

		err = s.db.QueryRowContext(ctx, `
			INSERT INTO attempts (test_id, user_id, status, started_at)
			VALUES ($1, $2, 'in_progress', now())
			ON CONFLICT (test_id, user_id) WHERE status = 'in_progress' AND user_id IS NOT NULL
			DO UPDATE SET status = attempts.status
			RETURNING id
		`, testID, userID).Scan(&attemptID)
		if err != nil {
			return 0, "", fmt.Errorf("insert attempt: %w", err)
		}
		return attemptID, "", nil
	}

	token := uuid.NewString()
	var attemptID int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO attempts (test_id, user_id, client_token, status, started_at)
		VALUES ($1, NULL, $2, 'in_progress', now())
		RETURNING id
	`, testID, token).Scan(&attemptID)
	if err != nil {
		return 0, "", fmt.Errorf("insert anonymous attempt: %w", err)
	}
	return attemptID, token, nil
}

func (s *Service) session(sessionID string, userID int64) (*Session, error) {
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.UserID != 0 && sess.UserID != userID {
		return nil, ErrSessionForbidden
	}
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	_ = ctx
	return s.buildView(sess, sess.State() == StateNotStarted), nil
}

// ResumeSession continues a paused session, or consumes the stored
// snapshot when the session is still waiting on the resume-or-restart
// choice.
func (s *Service) ResumeSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}

	if sess.State() == StateNotStarted {
		snap, err := s.snapshots.Load(ctx, sess.UserID, sess.TestID)
		if errors.Is(err, ErrSnapshotNotFound) {
			if err := sess.Start(); err != nil {
				return nil, err
			}
			return s.buildView(sess, false), nil
		}
		if err != nil {
			return nil, err
		}
		if err := sess.Restore(*snap); err != nil {
			return nil, err
		}
		return s.buildView(sess, false), nil
	}

	if err := sess.Resume(); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

func (s *Service) RestartSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.Restart(ctx); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

func (s *Service) SetAnswer(ctx context.Context, sessionID string, userID, questionID int64, option string) error {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return err
	}
	_ = ctx
	return sess.SetAnswer(questionID, option)
}

func (s *Service) ClearAnswer(ctx context.Context, sessionID string, userID, questionID int64) error {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return err
	}
	_ = ctx
	return sess.ClearAnswer(questionID)
}

func (s *Service) ToggleFlag(ctx context.Context, sessionID string, userID, questionID int64) (bool, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return false, err
	}
	_ = ctx
	return sess.ToggleFlag(questionID)
}

func (s *Service) NextQuestion(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	_ = ctx
	if err := sess.Next(); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

func (s *Service) PrevQuestion(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	_ = ctx
	if err := sess.Prev(); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

func (s *Service) GoToQuestion(ctx context.Context, sessionID string, userID int64, index int) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	_ = ctx
	if err := sess.GoTo(index); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

func (s *Service) PauseSession(ctx context.Context, sessionID string, userID int64) (*SessionView, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if err := sess.Pause(ctx); err != nil {
		return nil, err
	}
	return s.buildView(sess, false), nil
}

// ExitSession persists the snapshot once more and drops the session
// from the live registry; the stored snapshot carries it across
// restarts.
func (s *Service) ExitSession(ctx context.Context, sessionID string, userID int64) error {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return err
	}
	if err := sess.ExitAndSave(ctx); err != nil {
		return err
	}
	s.registry.Remove(sessionID)
	return nil
}

func (s *Service) SubmitSession(ctx context.Context, sessionID string, userID int64) (*AttemptResult, error) {
	sess, err := s.session(sessionID, userID)
	if err != nil {
		return nil, err
	}
	result, err := sess.Submit(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.loadResultItems(ctx, result.AttemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Result: *result, Items: items}, nil
}

// FinalizeAttempt grades the frozen answer set and records the result
// exactly once per attempt. A concurrent or repeated submit finds the
// attempt already completed and returns the existing result.
func (s *Service) FinalizeAttempt(ctx context.Context, attemptID int64, answers map[int64]string, timeTakenSecs int) (*Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		testID int64
		userID sql.NullInt64
		status string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT test_id, user_id, status
		FROM attempts
		WHERE id = $1
		FOR UPDATE
	`, attemptID).Scan(&testID, &userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt for update: %w", err)
	}

	if status == "completed" {
		result, err := loadResultByAttempt(ctx, tx, attemptID)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit finalize noop: %w", err)
		}
		return result, nil
	}

	var policyRaw string
	err = tx.QueryRowContext(ctx, `
		SELECT scoring_policy FROM tests WHERE id = $1
	`, testID).Scan(&policyRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load scoring policy: %w", err)
	}
	policy, err := ParseScoringPolicy(policyRaw)
	if err != nil {
		policy = PolicyPercentage
	}

	questions, err := loadQuestionsTx(ctx, tx, testID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrTestNotFound
	}

	summary, items := Grade(questions, answers, policy)

	for _, item := range items {
		var selected interface{}
		if item.Selected != "" {
			selected = item.Selected
		}
		var isCorrect interface{}
		if item.IsCorrect != nil {
			isCorrect = *item.IsCorrect
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempt_answers (attempt_id, question_id, selected_option, is_correct)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (attempt_id, question_id)
			DO UPDATE SET selected_option = EXCLUDED.selected_option, is_correct = EXCLUDED.is_correct
		`, attemptID, item.QuestionID, selected, isCorrect); err != nil {
			return nil, fmt.Errorf("insert attempt answer: %w", err)
		}
	}

	var higher int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM results WHERE test_id = $1 AND score > $2
	`, testID, summary.Score).Scan(&higher); err != nil {
		return nil, fmt.Errorf("count higher scores: %w", err)
	}
	rank := higher + 1

	result := &Result{
		AttemptID:       attemptID,
		TestID:          testID,
		TotalQuestions:  summary.TotalQuestions,
		CorrectCount:    summary.CorrectCount,
		WrongCount:      summary.WrongCount,
		UnansweredCount: summary.UnansweredCount,
		Score:           summary.Score,
		Percentage:      summary.Percentage,
		Rank:            rank,
		TimeTakenSecs:   timeTakenSecs,
	}
	if userID.Valid {
		result.UserID = &userID.Int64
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO results (
			attempt_id, test_id, user_id,
			total_questions, correct_count, wrong_count, unanswered_count,
			score, percentage, rank, time_taken_secs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`, attemptID, testID, result.UserID,
		result.TotalQuestions, result.CorrectCount, result.WrongCount, result.UnansweredCount,
		result.Score, result.Percentage, result.Rank, result.TimeTakenSecs,
	).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts
		SET status = 'completed', completed_at = now(), time_taken_secs = $2
		WHERE id = $1
	`, attemptID, timeTakenSecs); err != nil {
		return nil, fmt.Errorf("update attempt final: %w", err)
	}

	if userID.Valid {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM progress_snapshots WHERE user_id = $1 AND test_id = $2
		`, userID.Int64, testID); err != nil {
			return nil, fmt.Errorf("clear snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	return result, nil
}

func (s *Service) GetAttemptResult(ctx context.Context, attemptID int64) (*AttemptResult, error) {
	result, err := loadResultByAttempt(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}
	items, err := s.loadResultItems(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Result: *result, Items: items}, nil
}

// GetAttemptAccess reports who may read an attempt: the owning user id
// (0 for anonymous) and the anonymous client token.
func (s *Service) GetAttemptAccess(ctx context.Context, attemptID int64) (int64, string, error) {
	var (
		userID sql.NullInt64
		token  sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, client_token
		FROM attempts
		WHERE id = $1
	`, attemptID).Scan(&userID, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrAttemptNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("load attempt access: %w", err)
	}
	return userID.Int64, token.String, nil
}

func (s *Service) loadResultItems(ctx context.Context, attemptID int64) ([]GradedAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT aa.question_id, aa.selected_option, aa.is_correct, q.correct_option, q.explanation
		FROM attempt_answers aa
		JOIN questions q ON q.id = aa.question_id
		WHERE aa.attempt_id = $1
		ORDER BY q.seq_no
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query result items: %w", err)
	}
	defer rows.Close()

	items := make([]GradedAnswer, 0)
	for rows.Next() {
		var (
			item      GradedAnswer
			selected  sql.NullString
			isCorrect sql.NullBool
		)
		if err := rows.Scan(&item.QuestionID, &selected, &isCorrect, &item.Correct, &item.Explanation); err != nil {
			return nil, fmt.Errorf("scan result item: %w", err)
		}
		if selected.Valid {
			item.Selected = selected.String
		}
		if isCorrect.Valid {
			v := isCorrect.Bool
			item.IsCorrect = &v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result items: %w", err)
	}
	return items, nil
}

func loadQuestionsTx(ctx context.Context, q queryable, testID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		var question Question
		if err := rows.Scan(
			&question.ID, &question.SeqNo, &question.Prompt,
			&question.OptionA, &question.OptionB, &question.OptionC, &question.OptionD,
			&question.CorrectOption, &question.Explanation,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

func loadResultByAttempt(ctx context.Context, q queryable, attemptID int64) (*Result, error) {
	result := &Result{}
	var userID sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT id, attempt_id, test_id, user_id,
			total_questions, correct_count, wrong_count, unanswered_count,
			score, percentage, rank, time_taken_secs, created_at
		FROM results
		WHERE attempt_id = $1
	`, attemptID).Scan(
		&result.ID, &result.AttemptID, &result.TestID, &userID,
		&result.TotalQuestions, &result.CorrectCount, &result.WrongCount, &result.UnansweredCount,
		&result.Score, &result.Percentage, &result.Rank, &result.TimeTakenSecs, &result.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	if userID.Valid {
		result.UserID = &userID.Int64
	}
	return result, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *Service) buildView(sess *Session, resumeAvailable bool) *SessionView {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	snap := sess.snapshotLocked()
	view := &SessionView{
		ID:               sess.ID,
		TestID:           sess.TestID,
		AttemptID:        sess.AttemptID,
		ClientToken:      sess.clientToken,
		State:            sess.state,
		TotalQuestions:   len(sess.questions),
		CurrentQuestion:  snap.CurrentQuestion,
		RemainingSeconds: snap.RemainingSeconds,
		AnsweredCount:    len(snap.Answers),
		FlaggedCount:     len(snap.Flagged),
		Answers:          snap.Answers,
		Flagged:          snap.Flagged,
		ResumeAvailable:  resumeAvailable,
		Questions:        sess.questions,
		Result:           sess.result,
	}
	if sess.state == StateNotStarted {
		view.RemainingSeconds = sess.duration
	}
	return view
}
