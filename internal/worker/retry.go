package worker

import "time"

// RetryPolicy spaces out drain attempts while the remote stays unreachable.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Advance returns the halt counter after one more halted drain. Once MaxRetries
// is reached the counter stops growing and the delay plateaus.
func (r RetryPolicy) Advance(halts int) int {
	if r.MaxRetries > 0 && halts >= r.MaxRetries {
		return r.MaxRetries
	}
	return halts + 1
}

// NextDelay returns the wait after the given number of consecutive halts (1-based).
func (r RetryPolicy) NextDelay(halts int) time.Duration {
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor < 1 {
		factor = 2
	}

	d := initial
	for i := 1; i < halts; i++ {
		next := time.Duration(float64(d) * factor)
		if next <= d {
			break
		}
		d = next
		if r.MaxDelay > 0 && d >= r.MaxDelay {
			break
		}
	}
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = initial
	}
	return d
}
