// Package partition computes the overlapping page ranges a document is
// split into for extraction. Adjacent ranges share pages on purpose:
// content that straddles a range boundary is seen by both sides, and the
// resulting duplicate questions are collapsed downstream by the merger.
package partition

import "fmt"

// Range is a 1-indexed, inclusive page span.
type Range struct {
	Start int `json:"start_page"`
	End   int `json:"end_page"`
}

// Pages returns the number of pages the range covers.
func (r Range) Pages() int {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Plan splits totalPages into ordered ranges of at most chunkSize pages
// where consecutive ranges overlap by exactly overlap pages. A document
// that fits in a single chunk yields one range covering everything. The
// final range is clamped to the last page and may be shorter than
// chunkSize. Deterministic for a given input.
func Plan(totalPages, chunkSize, overlap int) ([]Range, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("total pages must be positive, got %d", totalPages)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("overlap %d must be smaller than chunk size %d", overlap, chunkSize)
	}

	if totalPages <= chunkSize {
		return []Range{{Start: 1, End: totalPages}}, nil
	}

	step := chunkSize - overlap
	var ranges []Range
	for start := 1; ; start += step {
		end := start + chunkSize - 1
		if end >= totalPages {
			ranges = append(ranges, Range{Start: start, End: totalPages})
			return ranges, nil
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
}
