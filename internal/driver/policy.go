package driver

import "time"

// Policy is the retry backoff schedule: exponential doubling from Base,
// capped at Max. A server-suggested delay always wins over the schedule.
type Policy struct {
	Base time.Duration
	Max  time.Duration
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = 2 * time.Second
	}
	if p.Max <= 0 {
		p.Max = 60 * time.Second
	}
	return p
}

// Wait returns the delay before retry number attempt (1-based). When the
// server suggested a delay, that wins, capped at Max.
func (p Policy) Wait(attempt int, suggested time.Duration) time.Duration {
	p = p.normalized()
	if suggested > 0 {
		return min(suggested, p.Max)
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base << (attempt - 1)
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}
