package driver

import (
	"testing"
	"time"
)

func TestPolicyWait(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Max: 60 * time.Second}

	tests := []struct {
		name      string
		attempt   int
		suggested time.Duration
		want      time.Duration
	}{
		{"first attempt", 1, 0, 2 * time.Second},
		{"second doubles", 2, 0, 4 * time.Second},
		{"fifth", 5, 0, 32 * time.Second},
		{"capped at max", 6, 0, 60 * time.Second},
		{"way past cap", 40, 0, 60 * time.Second},
		{"zero attempt treated as first", 0, 0, 2 * time.Second},
		{"server suggestion wins", 5, 3 * time.Second, 3 * time.Second},
		{"suggestion capped at max", 1, 5 * time.Minute, 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Wait(tt.attempt, tt.suggested); got != tt.want {
				t.Errorf("Wait(%d, %s) = %s, want %s", tt.attempt, tt.suggested, got, tt.want)
			}
		})
	}
}

func TestPolicyDefaults(t *testing.T) {
	var p Policy
	if got := p.Wait(1, 0); got != 2*time.Second {
		t.Errorf("zero-value base = %s, want 2s", got)
	}
	if got := p.Wait(10, 0); got != 60*time.Second {
		t.Errorf("zero-value cap = %s, want 60s", got)
	}
	if got := p.Wait(1, 90*time.Second); got != 60*time.Second {
		t.Errorf("suggested past default cap = %s, want 60s", got)
	}
}
