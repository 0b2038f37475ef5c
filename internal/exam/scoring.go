package exam

import (
	"fmt"
	"math"
	"strings"
)

// ScoringPolicy selects how a final answer set is converted into a score.
// Every test carries its policy explicitly; call sites never assume one.
type ScoringPolicy string

const (
	// PolicyPercentage scores round(correct/total*100) with no penalty.
	PolicyPercentage ScoringPolicy = "percentage"
	// PolicyNegative scores 4 points per correct answer minus 1 per
	// wrong answer, floored at zero.
	PolicyNegative ScoringPolicy = "negative"
)

const negativeMarkWeight = 4

func ParseScoringPolicy(raw string) (ScoringPolicy, error) {
	switch ScoringPolicy(strings.TrimSpace(strings.ToLower(raw))) {
	case PolicyPercentage:
		return PolicyPercentage, nil
	case PolicyNegative:
		return PolicyNegative, nil
	default:
		return "", fmt.Errorf("unknown scoring policy %q", raw)
	}
}

type GradeSummary struct {
	TotalQuestions  int `json:"total_questions"`
	CorrectCount    int `json:"correct_count"`
	WrongCount      int `json:"wrong_count"`
	UnansweredCount int `json:"unanswered_count"`
	Score           int `json:"score"`
	Percentage      int `json:"percentage"`
}

type GradedAnswer struct {
	QuestionID  int64   `json:"question_id"`
	Selected    string  `json:"selected,omitempty"`
	Correct     string  `json:"correct"`
	IsCorrect   *bool   `json:"is_correct,omitempty"`
	Explanation *string `json:"explanation,omitempty"`
}

// Grade classifies every question as correct, wrong, or unanswered and
// applies the scoring policy. The three counts always sum to the number
// of questions. Matching is case-insensitive; an answer for a question
// that is not part of the test is ignored.
func Grade(questions []Question, answers map[int64]string, policy ScoringPolicy) (GradeSummary, []GradedAnswer) {
	summary := GradeSummary{TotalQuestions: len(questions)}
	items := make([]GradedAnswer, 0, len(questions))

	for _, q := range questions {
		item := GradedAnswer{
			QuestionID:  q.ID,
			Correct:     q.CorrectOption,
			Explanation: q.Explanation,
		}

		selected, ok := answers[q.ID]
		selected = strings.TrimSpace(selected)
		if !ok || selected == "" {
			summary.UnansweredCount++
			items = append(items, item)
			continue
		}

		item.Selected = strings.ToUpper(selected)
		correct := strings.EqualFold(selected, q.CorrectOption)
		item.IsCorrect = &correct
		if correct {
			summary.CorrectCount++
		} else {
			summary.WrongCount++
		}
		items = append(items, item)
	}

	summary.Score, summary.Percentage = applyPolicy(policy, summary.CorrectCount, summary.WrongCount, summary.TotalQuestions)
	return summary, items
}

func applyPolicy(policy ScoringPolicy, correct, wrong, total int) (score, percentage int) {
	if total == 0 {
		return 0, 0
	}

	switch policy {
	case PolicyNegative:
		raw := correct*negativeMarkWeight - wrong
		if raw < 0 {
			raw = 0
		}
		pct := int(math.Round(float64(raw) / float64(total*negativeMarkWeight) * 100))
		return raw, pct
	default:
		pct := int(math.Round(float64(correct) / float64(total) * 100))
		return pct, pct
	}
}

// Rank returns the 1-based position of score among existing results for
// the same test: one plus the count of strictly greater scores. Ties
// share the same rank.
func Rank(existing []int, score int) int {
	higher := 0
	for _, s := range existing {
		if s > score {
			higher++
		}
	}
	return higher + 1
}
