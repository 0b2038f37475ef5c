package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"examprep/internal/exam"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrNameTaken    = errors.New("name already taken")
	ErrTestLocked   = errors.New("test has completed attempts and can no longer be edited")
)

type Service struct {
	db *sql.DB
}

type Category struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

type TestSummary struct {
	ID              int64  `json:"id"`
	CategoryID      *int64 `json:"category_id,omitempty"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	ScoringPolicy   string `json:"scoring_policy"`
	IsActive        bool   `json:"is_active"`
	QuestionCount   int    `json:"question_count"`
}

type TestInput struct {
	CategoryID      int64
	Title           string
	DurationMinutes int
	ScoringPolicy   string
	IsActive        bool
}

type QuestionDetail struct {
	ID            int64   `json:"id"`
	TestID        int64   `json:"test_id"`
	SeqNo         int     `json:"seq_no"`
	Prompt        string  `json:"prompt"`
	OptionA       string  `json:"option_a"`
	OptionB       string  `json:"option_b"`
	OptionC       string  `json:"option_c"`
	OptionD       string  `json:"option_d"`
	CorrectOption string  `json:"correct_option"`
	Explanation   *string `json:"explanation,omitempty"`
}

type QuestionInput struct {
	SeqNo         int
	Prompt        string
	OptionA       string
	OptionB       string
	OptionC       string
	OptionD       string
	CorrectOption string
	Explanation   string
}

type Material struct {
	ID         int64   `json:"id"`
	CategoryID *int64  `json:"category_id,omitempty"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	URL        *string `json:"url,omitempty"`
	IsActive   bool    `json:"is_active"`
}

type MaterialInput struct {
	CategoryID int64
	Title      string
	Body       string
	URL        string
	IsActive   bool
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	query := `SELECT id, name, is_active FROM categories`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

func (s *Service) CreateCategory(ctx context.Context, name string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var c Category
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO categories (name)
		VALUES ($1)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, name, is_active
	`, name).Scan(&c.ID, &c.Name, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	return &c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id int64, name string, isActive bool) (*Category, error) {
	name = strings.TrimSpace(name)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	var c Category
	err := s.db.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $2, is_active = $3
		WHERE id = $1
		RETURNING id, name, is_active
	`, id, name, isActive).Scan(&c.ID, &c.Name, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update category: %w", err)
	}
	return &c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListTests(ctx context.Context, categoryID int64, activeOnly bool) ([]TestSummary, error) {
	query := `
		SELECT t.id, t.category_id, t.title, t.duration_minutes, t.scoring_policy, t.is_active,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
		FROM tests t
		WHERE ($1 = 0 OR t.category_id = $1)
	`
	if activeOnly {
		query += ` AND t.is_active = TRUE`
	}
	query += ` ORDER BY t.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	items := make([]TestSummary, 0)
	for rows.Next() {
		var t TestSummary
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Title, &t.DurationMinutes, &t.ScoringPolicy, &t.IsActive, &t.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return items, nil
}

func (s *Service) GetTest(ctx context.Context, id int64) (*TestSummary, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var t TestSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.category_id, t.title, t.duration_minutes, t.scoring_policy, t.is_active,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = t.id)
		FROM tests t
		WHERE t.id = $1
	`, id).Scan(&t.ID, &t.CategoryID, &t.Title, &t.DurationMinutes, &t.ScoringPolicy, &t.IsActive, &t.QuestionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}
	return &t, nil
}

func (s *Service) CreateTest(ctx context.Context, in TestInput) (*TestSummary, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || in.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(in.ScoringPolicy) == "" {
		in.ScoringPolicy = string(exam.PolicyPercentage)
	}
	policy, err := exam.ParseScoringPolicy(in.ScoringPolicy)
	if err != nil {
		return nil, ErrInvalidInput
	}

	var t TestSummary
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tests (category_id, title, duration_minutes, scoring_policy, is_active)
		VALUES (NULLIF($1, 0), $2, $3, $4, $5)
		RETURNING id, category_id, title, duration_minutes, scoring_policy, is_active, 0
	`, in.CategoryID, title, in.DurationMinutes, string(policy), in.IsActive).Scan(
		&t.ID, &t.CategoryID, &t.Title, &t.DurationMinutes, &t.ScoringPolicy, &t.IsActive, &t.QuestionCount,
	)
	if err != nil {
		return nil, fmt.Errorf("create test: %w", err)
	}
	return &t, nil
}

func (s *Service) UpdateTest(ctx context.Context, id int64, in TestInput) (*TestSummary, error) {
	title := strings.TrimSpace(in.Title)
	if id <= 0 || title == "" || in.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(in.ScoringPolicy) == "" {
		in.ScoringPolicy = string(exam.PolicyPercentage)
	}
	policy, err := exam.ParseScoringPolicy(in.ScoringPolicy)
	if err != nil {
		return nil, ErrInvalidInput
	}

	var t TestSummary
	err = s.db.QueryRowContext(ctx, `
		UPDATE tests
		SET category_id = NULLIF($2, 0),
			title = $3,
			duration_minutes = $4,
			scoring_policy = $5,
			is_active = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING id, category_id, title, duration_minutes, scoring_policy, is_active,
			(SELECT COUNT(*) FROM questions q WHERE q.test_id = tests.id)
	`, id, in.CategoryID, title, in.DurationMinutes, string(policy), in.IsActive).Scan(
		&t.ID, &t.CategoryID, &t.Title, &t.DurationMinutes, &t.ScoringPolicy, &t.IsActive, &t.QuestionCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	return &t, nil
}

func (s *Service) DeleteTest(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	if err := s.ensureTestEditable(ctx, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListQuestions(ctx context.Context, testID int64) ([]QuestionDetail, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, seq_no, prompt, option_a, option_b, option_c, option_d,
			correct_option, explanation
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]QuestionDetail, 0)
	for rows.Next() {
		var q QuestionDetail
		if err := rows.Scan(&q.ID, &q.TestID, &q.SeqNo, &q.Prompt, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.Explanation); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.CorrectOption = strings.ToUpper(strings.TrimSpace(q.CorrectOption))
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *Service) CreateQuestion(ctx context.Context, testID int64, in QuestionInput) (*QuestionDetail, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}
	if err := s.ensureTestEditable(ctx, testID); err != nil {
		return nil, err
	}

	var q QuestionDetail
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (test_id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING id, test_id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation
	`, testID, in.SeqNo, strings.TrimSpace(in.Prompt),
		strings.TrimSpace(in.OptionA), strings.TrimSpace(in.OptionB),
		strings.TrimSpace(in.OptionC), strings.TrimSpace(in.OptionD),
		strings.ToUpper(strings.TrimSpace(in.CorrectOption)), strings.TrimSpace(in.Explanation),
	).Scan(&q.ID, &q.TestID, &q.SeqNo, &q.Prompt, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.Explanation)
	if err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	q.CorrectOption = strings.TrimSpace(q.CorrectOption)
	return &q, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, testID, questionID int64, in QuestionInput) (*QuestionDetail, error) {
	if testID <= 0 || questionID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}
	if err := s.ensureTestEditable(ctx, testID); err != nil {
		return nil, err
	}

	var q QuestionDetail
	err := s.db.QueryRowContext(ctx, `
		UPDATE questions
		SET seq_no = $3,
			prompt = $4,
			option_a = $5,
			option_b = $6,
			option_c = $7,
			option_d = $8,
			correct_option = $9,
			explanation = NULLIF($10, ''),
			updated_at = now()
		WHERE id = $2 AND test_id = $1
		RETURNING id, test_id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation
	`, testID, questionID, in.SeqNo, strings.TrimSpace(in.Prompt),
		strings.TrimSpace(in.OptionA), strings.TrimSpace(in.OptionB),
		strings.TrimSpace(in.OptionC), strings.TrimSpace(in.OptionD),
		strings.ToUpper(strings.TrimSpace(in.CorrectOption)), strings.TrimSpace(in.Explanation),
	).Scan(&q.ID, &q.TestID, &q.SeqNo, &q.Prompt, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectOption, &q.Explanation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	q.CorrectOption = strings.TrimSpace(q.CorrectOption)
	return &q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, testID, questionID int64) error {
	if testID <= 0 || questionID <= 0 {
		return ErrInvalidInput
	}
	if err := s.ensureTestEditable(ctx, testID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $2 AND test_id = $1`, testID, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ListMaterials(ctx context.Context, categoryID int64, activeOnly bool) ([]Material, error) {
	query := `
		SELECT id, category_id, title, body, url, is_active
		FROM materials
		WHERE ($1 = 0 OR category_id = $1)
	`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	items := make([]Material, 0)
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.CategoryID, &m.Title, &m.Body, &m.URL, &m.IsActive); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials: %w", err)
	}
	return items, nil
}

func (s *Service) CreateMaterial(ctx context.Context, in MaterialInput) (*Material, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrInvalidInput
	}

	var m Material
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO materials (category_id, title, body, url, is_active)
		VALUES (NULLIF($1, 0), $2, $3, NULLIF($4, ''), $5)
		RETURNING id, category_id, title, body, url, is_active
	`, in.CategoryID, title, in.Body, strings.TrimSpace(in.URL), in.IsActive).Scan(
		&m.ID, &m.CategoryID, &m.Title, &m.Body, &m.URL, &m.IsActive,
	)
	if err != nil {
		return nil, fmt.Errorf("create material: %w", err)
	}
	return &m, nil
}

func (s *Service) UpdateMaterial(ctx context.Context, id int64, in MaterialInput) (*Material, error) {
	title := strings.TrimSpace(in.Title)
	if id <= 0 || title == "" {
		return nil, ErrInvalidInput
	}

	var m Material
	err := s.db.QueryRowContext(ctx, `
		UPDATE materials
		SET category_id = NULLIF($2, 0),
			title = $3,
			body = $4,
			url = NULLIF($5, ''),
			is_active = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING id, category_id, title, body, url, is_active
	`, id, in.CategoryID, title, in.Body, strings.TrimSpace(in.URL), in.IsActive).Scan(
		&m.ID, &m.CategoryID, &m.Title, &m.Body, &m.URL, &m.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update material: %w", err)
	}
	return &m, nil
}

func (s *Service) DeleteMaterial(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ensureTestEditable rejects content changes once any attempt on the
// test has completed, so published results stay reproducible.
func (s *Service) ensureTestEditable(ctx context.Context, testID int64) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attempts WHERE test_id = $1 AND status = 'completed')
	`, testID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check test attempts: %w", err)
	}
	if exists {
		return ErrTestLocked
	}
	return nil
}

func validateQuestionInput(in QuestionInput) error {
	correct := strings.ToUpper(strings.TrimSpace(in.CorrectOption))
	switch {
	case in.SeqNo <= 0,
		strings.TrimSpace(in.Prompt) == "",
		strings.TrimSpace(in.OptionA) == "",
		strings.TrimSpace(in.OptionB) == "",
		strings.TrimSpace(in.OptionC) == "",
		strings.TrimSpace(in.OptionD) == "":
		return ErrInvalidInput
	}
	switch correct {
	case "A", "B", "C", "D":
		return nil
	default:
		return ErrInvalidInput
	}
}
