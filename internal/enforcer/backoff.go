package enforcer

import "time"

// Backoff computes the delay between enforcement attempts.
type Backoff struct {
	Base       time.Duration
	Multiplier time.Duration
	Max        time.Duration
}

// DefaultBackoff waits 3s, then 4.5s, 6s, ... up to three minutes.
var DefaultBackoff = Backoff{
	Base:       3 * time.Second,
	Multiplier: 1500 * time.Millisecond,
	Max:        180 * time.Second,
}

// Delay returns min(Base + n*Multiplier, Max) for retry n.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if b.Max > 0 && b.Multiplier > 0 && time.Duration(n) > (b.Max-b.Base)/b.Multiplier {
		return b.Max
	}
	d := b.Base + time.Duration(n)*b.Multiplier
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
