package notify

import "time"

var (
	standardDelays = []time.Duration{60 * time.Second, 300 * time.Second, 1800 * time.Second, 7200 * time.Second}
	testDelays     = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 20 * time.Second}
)

// Schedule maps a 1-indexed failed attempt number to the wait before the
// next delivery attempt. Attempts past the table reuse the last entry.
type Schedule struct {
	// Test switches to the short intervals used by integration runs.
	Test bool
}

// Delay returns the backoff after the given failed attempt.
func (s Schedule) Delay(attempt int) time.Duration {
	delays := standardDelays
	if s.Test {
		delays = testDelays
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(delays) {
		attempt = len(delays)
	}
	return delays[attempt-1]
}
