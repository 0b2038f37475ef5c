package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Service struct {
	db *sql.DB
}

type TestSummary struct {
	TestID       int64   `json:"test_id"`
	Title        string  `json:"title"`
	Participants int     `json:"participants"`
	AverageScore float64 `json:"average_score"`
	HighestScore int     `json:"highest_score"`
	LowestScore  int     `json:"lowest_score"`
	AverageSecs  float64 `json:"average_time_secs"`
}

type ScoreBucket struct {
	Label string `json:"label"`
	From  int    `json:"from"`
	To    int    `json:"to"`
	Count int    `json:"count"`
}

type AttemptHistoryItem struct {
	AttemptID     int64     `json:"attempt_id"`
	TestID        int64     `json:"test_id"`
	TestTitle     string    `json:"test_title"`
	Score         int       `json:"score"`
	Percentage    int       `json:"percentage"`
	Rank          int       `json:"rank"`
	TimeTakenSecs int       `json:"time_taken_secs"`
	CompletedAt   time.Time `json:"completed_at"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// TestSummary aggregates all completed attempts of one test.
func (s *Service) TestSummary(ctx context.Context, testID int64) (*TestSummary, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}

	var out TestSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.title,
			COUNT(res.id),
			COALESCE(AVG(res.score), 0),
			COALESCE(MAX(res.score), 0),
			COALESCE(MIN(res.score), 0),
			COALESCE(AVG(res.time_taken_secs), 0)
		FROM tests t
		LEFT JOIN results res ON res.test_id = t.id
		WHERE t.id = $1
		GROUP BY t.id, t.title
	`, testID).Scan(
		&out.TestID, &out.Title, &out.Participants,
		&out.AverageScore, &out.HighestScore, &out.LowestScore, &out.AverageSecs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test summary: %w", err)
	}
	return &out, nil
}

// ScoreDistribution buckets completed scores into ten-point bands.
func (s *Service) ScoreDistribution(ctx context.Context, testID int64) ([]ScoreBucket, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT LEAST(score / 10, 9) AS bucket, COUNT(*)
		FROM results
		WHERE test_id = $1
		GROUP BY bucket
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query score distribution: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int, 10)
	for rows.Next() {
		var bucket, count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan score bucket: %w", err)
		}
		counts[bucket] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score buckets: %w", err)
	}

	buckets := make([]ScoreBucket, 0, 10)
	for i := 0; i < 10; i++ {
		from := i * 10
		to := from + 9
		if i == 9 {
			to = 100
		}
		buckets = append(buckets, ScoreBucket{
			Label: fmt.Sprintf("%d-%d", from, to),
			From:  from,
			To:    to,
			Count: counts[i],
		})
	}
	return buckets, nil
}

// StudentHistory lists a student's completed attempts, most recent first.
func (s *Service) StudentHistory(ctx context.Context, userID int64, limit int) ([]AttemptHistoryItem, error) {
	if userID <= 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT res.attempt_id, res.test_id, t.title,
			res.score, res.percentage, res.rank, res.time_taken_secs, res.created_at
		FROM results res
		JOIN tests t ON t.id = res.test_id
		WHERE res.user_id = $1
		ORDER BY res.created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query student history: %w", err)
	}
	defer rows.Close()

	items := make([]AttemptHistoryItem, 0)
	for rows.Next() {
		var it AttemptHistoryItem
		if err := rows.Scan(&it.AttemptID, &it.TestID, &it.TestTitle, &it.Score, &it.Percentage, &it.Rank, &it.TimeTakenSecs, &it.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan history item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}
