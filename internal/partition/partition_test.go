package partition

import (
	"testing"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		totalPages int
		chunkSize  int
		overlap    int
		want       []Range
	}{
		{
			name:       "twelve_pages_size_five_overlap_one",
			totalPages: 12,
			chunkSize:  5,
			overlap:    1,
			want:       []Range{{1, 5}, {5, 9}, {9, 12}},
		},
		{
			name:       "single_chunk_document",
			totalPages: 4,
			chunkSize:  5,
			overlap:    1,
			want:       []Range{{1, 4}},
		},
		{
			name:       "exact_fit",
			totalPages: 5,
			chunkSize:  5,
			overlap:    2,
			want:       []Range{{1, 5}},
		},
		{
			name:       "one_page",
			totalPages: 1,
			chunkSize:  5,
			overlap:    1,
			want:       []Range{{1, 1}},
		},
		{
			name:       "no_overlap",
			totalPages: 10,
			chunkSize:  4,
			overlap:    0,
			want:       []Range{{1, 4}, {5, 8}, {9, 10}},
		},
		{
			name:       "final_window_clamped",
			totalPages: 6,
			chunkSize:  5,
			overlap:    1,
			want:       []Range{{1, 5}, {5, 6}},
		},
		{
			name:       "large_overlap",
			totalPages: 10,
			chunkSize:  5,
			overlap:    4,
			want:       []Range{{1, 5}, {2, 6}, {3, 7}, {4, 8}, {5, 9}, {6, 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.totalPages, tt.chunkSize, tt.overlap)
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Plan() returned %d ranges %v, want %d ranges %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Plan() range %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPlanInvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		totalPages int
		chunkSize  int
		overlap    int
	}{
		{"zero_pages", 0, 5, 1},
		{"negative_pages", -3, 5, 1},
		{"zero_chunk_size", 10, 0, 0},
		{"negative_overlap", 10, 5, -1},
		{"overlap_equals_chunk_size", 10, 5, 5},
		{"overlap_exceeds_chunk_size", 10, 5, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Plan(tt.totalPages, tt.chunkSize, tt.overlap); err == nil {
				t.Errorf("Plan(%d, %d, %d) expected error, got nil", tt.totalPages, tt.chunkSize, tt.overlap)
			}
		})
	}
}

// Coverage and overlap guarantees must hold for arbitrary valid inputs,
// not just the handpicked cases above.
func TestPlanProperties(t *testing.T) {
	for totalPages := 1; totalPages <= 60; totalPages++ {
		for chunkSize := 1; chunkSize <= 12; chunkSize++ {
			for overlap := 0; overlap < chunkSize; overlap++ {
				ranges, err := Plan(totalPages, chunkSize, overlap)
				if err != nil {
					t.Fatalf("Plan(%d, %d, %d) error = %v", totalPages, chunkSize, overlap, err)
				}

				if ranges[0].Start != 1 {
					t.Fatalf("Plan(%d, %d, %d) first range starts at %d, want 1", totalPages, chunkSize, overlap, ranges[0].Start)
				}
				if last := ranges[len(ranges)-1]; last.End != totalPages {
					t.Fatalf("Plan(%d, %d, %d) last range ends at %d, want %d", totalPages, chunkSize, overlap, last.End, totalPages)
				}

				if totalPages <= chunkSize && len(ranges) != 1 {
					t.Fatalf("Plan(%d, %d, %d) = %v, want a single range", totalPages, chunkSize, overlap, ranges)
				}

				for i := 1; i < len(ranges); i++ {
					prev, cur := ranges[i-1], ranges[i]
					shared := prev.End - cur.Start + 1
					if shared != overlap {
						t.Fatalf("Plan(%d, %d, %d) ranges %v and %v share %d pages, want %d", totalPages, chunkSize, overlap, prev, cur, shared, overlap)
					}
					if cur.Start > prev.End+1 {
						t.Fatalf("Plan(%d, %d, %d) gap between %v and %v", totalPages, chunkSize, overlap, prev, cur)
					}
				}
			}
		}
	}
}
