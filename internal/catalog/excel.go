package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

type QuestionImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type QuestionImportReport struct {
	TotalRows   int                      `json:"total_rows"`
	SuccessRows int                      `json:"success_rows"`
	FailedRows  int                      `json:"failed_rows"`
	Errors      []QuestionImportRowError `json:"errors"`
}

// ImportQuestionsExcel loads questions for a test from an xlsx upload.
// Rows with an existing seq_no overwrite that question; the rest are
// appended. Row-level problems are reported, not fatal.
func (s *Service) ImportQuestionsExcel(ctx context.Context, testID int64, r io.Reader) (*QuestionImportReport, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := s.ensureTestEditable(ctx, testID); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	required := []string{"seq_no", "prompt", "option_a", "option_b", "option_c", "option_d", "correct"}
	for _, col := range required {
		if _, ok := header[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &QuestionImportReport{Errors: make([]QuestionImportRowError, 0)}
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		report.TotalRows++

		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		seqNo, err := strconv.Atoi(get("seq_no"))
		if err != nil || seqNo <= 0 {
			report.FailedRows++
			report.Errors = append(report.Errors, QuestionImportRowError{Row: rowNo, Error: "seq_no must be a positive number"})
			continue
		}

		in := QuestionInput{
			SeqNo:         seqNo,
			Prompt:        get("prompt"),
			OptionA:       get("option_a"),
			OptionB:       get("option_b"),
			OptionC:       get("option_c"),
			OptionD:       get("option_d"),
			CorrectOption: get("correct"),
			Explanation:   get("explanation"),
		}
		if err := validateQuestionInput(in); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, QuestionImportRowError{Row: rowNo, Error: "prompt, all four options and a correct letter A-D are required"})
			continue
		}

		if err := s.upsertQuestionBySeq(ctx, testID, in); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, QuestionImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		report.SuccessRows++
	}

	return report, nil
}

func (s *Service) upsertQuestionBySeq(ctx context.Context, testID int64, in QuestionInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (test_id, seq_no, prompt, option_a, option_b, option_c, option_d, correct_option, explanation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		ON CONFLICT (test_id, seq_no) DO UPDATE SET
			prompt = EXCLUDED.prompt,
			option_a = EXCLUDED.option_a,
			option_b = EXCLUDED.option_b,
			option_c = EXCLUDED.option_c,
			option_d = EXCLUDED.option_d,
			correct_option = EXCLUDED.correct_option,
			explanation = EXCLUDED.explanation,
			updated_at = now()
	`, testID, in.SeqNo, strings.TrimSpace(in.Prompt),
		strings.TrimSpace(in.OptionA), strings.TrimSpace(in.OptionB),
		strings.TrimSpace(in.OptionC), strings.TrimSpace(in.OptionD),
		strings.ToUpper(strings.TrimSpace(in.CorrectOption)), strings.TrimSpace(in.Explanation))
	if err != nil {
		return fmt.Errorf("upsert question: %w", err)
	}
	return nil
}
