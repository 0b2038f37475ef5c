package catalog

import (
	"errors"
	"testing"
)

func validInput() QuestionInput {
	return QuestionInput{
		SeqNo:         1,
		Prompt:        "What is 2+2?",
		OptionA:       "3",
		OptionB:       "4",
		OptionC:       "5",
		OptionD:       "6",
		CorrectOption: "B",
	}
}

func TestValidateQuestionInput(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(in *QuestionInput)
		wantErr bool
	}{
		{name: "valid", mutate: func(in *QuestionInput) {}},
		{name: "lowercase correct option", mutate: func(in *QuestionInput) { in.CorrectOption = "b" }},
		{name: "padded correct option", mutate: func(in *QuestionInput) { in.CorrectOption = " C " }},
		{name: "zero seq_no", mutate: func(in *QuestionInput) { in.SeqNo = 0 }, wantErr: true},
		{name: "negative seq_no", mutate: func(in *QuestionInput) { in.SeqNo = -2 }, wantErr: true},
		{name: "blank prompt", mutate: func(in *QuestionInput) { in.Prompt = "   " }, wantErr: true},
		{name: "missing option", mutate: func(in *QuestionInput) { in.OptionC = "" }, wantErr: true},
		{name: "correct option out of range", mutate: func(in *QuestionInput) { in.CorrectOption = "E" }, wantErr: true},
		{name: "empty correct option", mutate: func(in *QuestionInput) { in.CorrectOption = "" }, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			err := validateQuestionInput(in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
