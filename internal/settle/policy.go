// Package settle runs the asynchronous settlement pipeline for payments and
// refunds: a simulated bank delay followed by a simulated outcome.
package settle

import (
	"context"
	"math/rand"
	"time"

	"github.com/noah-isme/backend-gateway/internal/store"
)

// OutcomePolicy decides whether a settlement succeeds. In test mode the
// outcome is deterministic; otherwise it is drawn per method.
type OutcomePolicy struct {
	TestMode        bool
	TestSuccess     bool
	UPISuccessRate  float64
	CardSuccessRate float64
	// Rand returns a value in [0,1). Defaults to math/rand.
	Rand func() float64
}

// Decide returns the settlement outcome for a payment method.
func (p OutcomePolicy) Decide(method string) bool {
	if p.TestMode {
		return p.TestSuccess
	}
	draw := rand.Float64
	if p.Rand != nil {
		draw = p.Rand
	}
	rate := p.CardSuccessRate
	if method == store.MethodUPI {
		rate = p.UPISuccessRate
	}
	return draw() < rate
}

// DelayPolicy simulates bank processing time. Production draws uniformly
// from [Min, Max]; test mode uses the fixed Test duration.
type DelayPolicy struct {
	TestMode bool
	Test     time.Duration
	Min      time.Duration
	Max      time.Duration
	Rand     func() float64
}

// Duration returns the simulated delay for one settlement.
func (p DelayPolicy) Duration() time.Duration {
	if p.TestMode {
		return p.Test
	}
	draw := rand.Float64
	if p.Rand != nil {
		draw = p.Rand
	}
	spread := p.Max - p.Min
	if spread <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(draw()*float64(spread))
}

// Wait blocks for the policy's duration or until ctx is cancelled.
func (p DelayPolicy) Wait(ctx context.Context) error {
	d := p.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
