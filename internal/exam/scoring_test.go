package exam

import "testing"

func gradeQuestions(n int) []Question {
	out := make([]Question, 0, n)
	letters := []string{"A", "B", "C", "D"}
	for i := 0; i < n; i++ {
		out = append(out, Question{
			ID:            int64(i + 1),
			SeqNo:         i + 1,
			CorrectOption: letters[i%4],
		})
	}
	return out
}

func TestParseScoringPolicy(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ScoringPolicy
		wantErr bool
	}{
		{name: "percentage", raw: "percentage", want: PolicyPercentage},
		{name: "negative", raw: "negative", want: PolicyNegative},
		{name: "mixed case with spaces", raw: "  Negative ", want: PolicyNegative},
		{name: "unknown", raw: "bonus", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseScoringPolicy(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestGradePercentage(t *testing.T) {
	questions := gradeQuestions(10)
	answers := map[int64]string{}
	// Six correct, two wrong, two unanswered.
	for i := 0; i < 6; i++ {
		answers[questions[i].ID] = questions[i].CorrectOption
	}
	answers[questions[6].ID] = wrongLetter(questions[6].CorrectOption)
	answers[questions[7].ID] = wrongLetter(questions[7].CorrectOption)

	summary, items := Grade(questions, answers, PolicyPercentage)

	if summary.TotalQuestions != 10 {
		t.Fatalf("expected 10 total, got %d", summary.TotalQuestions)
	}
	if summary.CorrectCount != 6 || summary.WrongCount != 2 || summary.UnansweredCount != 2 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.CorrectCount+summary.WrongCount+summary.UnansweredCount != summary.TotalQuestions {
		t.Fatalf("counts do not sum to total: %+v", summary)
	}
	if summary.Score != 60 || summary.Percentage != 60 {
		t.Fatalf("expected score=60 pct=60, got score=%d pct=%d", summary.Score, summary.Percentage)
	}
	if len(items) != 10 {
		t.Fatalf("expected 10 graded items, got %d", len(items))
	}
	for _, item := range items[6:8] {
		if item.IsCorrect == nil || *item.IsCorrect {
			t.Fatalf("expected wrong item %d to be graded incorrect", item.QuestionID)
		}
	}
	for _, item := range items[8:] {
		if item.IsCorrect != nil {
			t.Fatalf("unanswered item %d should not carry a correctness verdict", item.QuestionID)
		}
	}
}

func TestGradeNegativeMarking(t *testing.T) {
	questions := gradeQuestions(10)
	answers := map[int64]string{}
	// Six correct, two wrong: raw = 6*4 - 2 = 22, pct = 22/40 -> 55.
	for i := 0; i < 6; i++ {
		answers[questions[i].ID] = questions[i].CorrectOption
	}
	answers[questions[6].ID] = wrongLetter(questions[6].CorrectOption)
	answers[questions[7].ID] = wrongLetter(questions[7].CorrectOption)

	summary, _ := Grade(questions, answers, PolicyNegative)

	if summary.Score != 22 {
		t.Fatalf("expected raw score 22, got %d", summary.Score)
	}
	if summary.Percentage != 55 {
		t.Fatalf("expected percentage 55, got %d", summary.Percentage)
	}
}

func TestGradeNegativeFloorsAtZero(t *testing.T) {
	questions := gradeQuestions(4)
	answers := map[int64]string{}
	for _, q := range questions {
		answers[q.ID] = wrongLetter(q.CorrectOption)
	}

	summary, _ := Grade(questions, answers, PolicyNegative)

	if summary.Score != 0 {
		t.Fatalf("all-wrong negative score should floor at 0, got %d", summary.Score)
	}
	if summary.Percentage != 0 {
		t.Fatalf("expected percentage 0, got %d", summary.Percentage)
	}
}

func TestGradeCaseInsensitiveAnswers(t *testing.T) {
	questions := []Question{{ID: 1, SeqNo: 1, CorrectOption: "B"}}
	summary, _ := Grade(questions, map[int64]string{1: " b "}, PolicyPercentage)
	if summary.CorrectCount != 1 {
		t.Fatalf("lowercase answer should match, got %+v", summary)
	}
}

func TestGradeEmptyTest(t *testing.T) {
	summary, items := Grade(nil, nil, PolicyPercentage)
	if summary.Score != 0 || summary.Percentage != 0 || summary.TotalQuestions != 0 {
		t.Fatalf("empty test should grade to zero, got %+v", summary)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestRank(t *testing.T) {
	tests := []struct {
		name     string
		existing []int
		score    int
		want     int
	}{
		{name: "top of empty board", existing: nil, score: 50, want: 1},
		{name: "tie shares rank", existing: []int{90, 80, 80, 70}, score: 80, want: 2},
		{name: "new best", existing: []int{90, 80}, score: 95, want: 1},
		{name: "bottom", existing: []int{90, 80}, score: 10, want: 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Rank(tc.existing, tc.score); got != tc.want {
				t.Fatalf("expected rank %d, got %d", tc.want, got)
			}
		})
	}
}

func wrongLetter(correct string) string {
	if correct == "A" {
		return "B"
	}
	return "A"
}
