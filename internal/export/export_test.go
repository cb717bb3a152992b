package export

import (
	"bytes"
	"encoding/csv"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/quizmill/quizmill/internal/types"
)

func sampleQuestions() []types.Question {
	return []types.Question{
		{
			Text:         "What is the powerhouse of the cell?",
			Options:      []string{"Nucleus", "Mitochondria", "Ribosome", "Golgi body"},
			Type:         types.QuestionSingle,
			CorrectIndex: 1,
		},
		{
			Text:           "Which of these are nucleotides?",
			Options:        []string{"Adenine", "Keratin", "Guanine"},
			Type:           types.QuestionMultiple,
			CorrectIndexes: []int{0, 2},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"csv", FormatCSV, false},
		{"CSV", FormatCSV, false},
		{"pdf", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCSV(t *testing.T) {
	data, err := CSV(sampleQuestions())
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse generated CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("CSV rows = %d, want 3 (header + 2 questions)", len(rows))
	}

	wantHeader := []string{"#", "Question", "Type", "Correct", "Option 1", "Option 2", "Option 3", "Option 4"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Errorf("header = %v, want %v", rows[0], wantHeader)
	}

	single := rows[1]
	if single[1] != "What is the powerhouse of the cell?" {
		t.Errorf("question text = %q", single[1])
	}
	if single[3] != "2" {
		t.Errorf("single correct = %q, want 1-based position 2", single[3])
	}

	multiple := rows[2]
	if multiple[3] != "1,3" {
		t.Errorf("multiple correct = %q, want %q", multiple[3], "1,3")
	}
	// Three options padded to the widest question's four columns.
	if got := multiple[7]; got != "" {
		t.Errorf("padding column = %q, want empty", got)
	}
}

func TestXLSX(t *testing.T) {
	data, err := XLSX(sampleQuestions())
	if err != nil {
		t.Fatalf("XLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to open generated workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		t.Fatalf("GetRows(%q) error = %v", sheet, err)
	}
	if len(rows) != 3 {
		t.Fatalf("sheet rows = %d, want 3", len(rows))
	}

	if got, want := rows[0][0], "#"; got != want {
		t.Errorf("header cell A1 = %q, want %q", got, want)
	}
	if got, want := rows[1][3], "2"; got != want {
		t.Errorf("correct cell = %q, want %q", got, want)
	}
	if got, want := rows[1][5], "Mitochondria"; got != want {
		t.Errorf("option cell = %q, want %q", got, want)
	}
	if got, want := rows[2][2], "multiple"; got != want {
		t.Errorf("type cell = %q, want %q", got, want)
	}
}

func TestCSV_Empty(t *testing.T) {
	data, err := CSV(nil)
	if err != nil {
		t.Fatalf("CSV(nil) error = %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse generated CSV: %v", err)
	}
	want := [][]string{{"#", "Question", "Type", "Correct"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want header only", rows)
	}
}
