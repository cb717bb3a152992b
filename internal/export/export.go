// Package export renders a job's questions as downloadable spreadsheet
// files. Correct answers are written as 1-based option positions, with
// multiple-answer questions comma-joining theirs.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/quizmill/quizmill/internal/types"
)

// Format is a supported export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat maps a query-string value to a Format. Empty means xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", string(FormatXLSX):
		return FormatXLSX, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want xlsx or csv)", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Render produces the file bytes for the format.
func Render(f Format, questions []types.Question) ([]byte, error) {
	if f == FormatCSV {
		return CSV(questions)
	}
	return XLSX(questions)
}

const sheet = "Questions"

// XLSX returns an Excel workbook with one row per question.
func XLSX(questions []types.Question) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	maxOpts := maxOptions(questions)
	for i, h := range headerRow(maxOpts) {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("xlsx header: %w", err)
		}
	}

	for row, q := range questions {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row+2)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, row+1)
		write(2, q.Text)
		write(3, string(q.Type))
		write(4, correctCell(q))
		for j, opt := range q.Options {
			write(5+j, opt)
		}
	}

	_ = f.SetColWidth(sheet, "B", "B", 60)
	if maxOpts > 0 {
		first, _ := excelize.ColumnNumberToName(5)
		last, _ := excelize.ColumnNumberToName(4 + maxOpts)
		_ = f.SetColWidth(sheet, first, last, 30)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// CSV returns the same table as comma-separated text.
func CSV(questions []types.Question) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	maxOpts := maxOptions(questions)
	if err := w.Write(headerRow(maxOpts)); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	for i, q := range questions {
		row := make([]string, 0, 4+maxOpts)
		row = append(row, strconv.Itoa(i+1), q.Text, string(q.Type), correctCell(q))
		for _, opt := range q.Options {
			row = append(row, opt)
		}
		for len(row) < 4+maxOpts {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	return buf.Bytes(), nil
}

func headerRow(maxOpts int) []string {
	header := []string{"#", "Question", "Type", "Correct"}
	for i := 1; i <= maxOpts; i++ {
		header = append(header, fmt.Sprintf("Option %d", i))
	}
	return header
}

// correctCell formats the correct answers as 1-based option positions.
func correctCell(q types.Question) string {
	if q.Type == types.QuestionMultiple {
		parts := make([]string, 0, len(q.CorrectIndexes))
		for _, idx := range q.CorrectIndexes {
			parts = append(parts, strconv.Itoa(idx+1))
		}
		return strings.Join(parts, ",")
	}
	return strconv.Itoa(q.CorrectIndex + 1)
}

func maxOptions(questions []types.Question) int {
	n := 0
	for _, q := range questions {
		if len(q.Options) > n {
			n = len(q.Options)
		}
	}
	return n
}
