package online

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// Phase is one of spec §4.10's online controller states. There is no
// recovery transition back to WarmingUp (spec §4.10).
type Phase int

const (
	WarmingUp Phase = iota
	ActiveUpper
	ActiveRebind
)

func (p Phase) String() string {
	switch p {
	case WarmingUp:
		return "WARMING_UP"
	case ActiveUpper:
		return "ACTIVE_UPPER"
	case ActiveRebind:
		return "ACTIVE_REBIND"
	default:
		return "UNKNOWN"
	}
}

// ReconfigureGate implements spec §4.9 step 6's compound hysteresis
// check and spec §4.10's state machine, repurposing
// github.com/sony/gobreaker's closed/open/half-open cycle for
// migration-churn breaking instead of network-call breaking (Open
// Question O5). The "total value >= grace threshold AND weight-to-rebind
// ratio >= configured ratio" gate is evaluated by Attempt itself, before
// the breaker is involved; every rebind that passes it is submitted
// through Execute. gobreaker consults ReadyToTrip only after a failed
// call, and a failure has already reset ConsecutiveSuccesses to zero, so
// the ConsecutiveSuccesses-based ReadyToTrip below never opens the
// breaker: it stays closed, and no cooldown is imposed between
// back-to-back rebinds.
type ReconfigureGate struct {
	cb              *gobreaker.CircuitBreaker
	upperContention bool
	graceValue      float64
	reconfRatio     float64
	rebinding       atomic.Bool
}

// NewReconfigureGate builds a gate that only allows a rebind once total
// candidate value reaches graceValue and the weight-to-rebind ratio
// reaches reconfRatio. cooldown becomes the breaker's Timeout, which
// only applies if the breaker opens (see ReconfigureGate).
func NewReconfigureGate(graceValue, reconfRatio float64, cooldown time.Duration) *ReconfigureGate {
	g := &ReconfigureGate{graceValue: graceValue, reconfRatio: reconfRatio}
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sicm-online-reconfigure",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// gobreaker calls this only from its failure path, where
			// ConsecutiveSuccesses has just been reset to zero, so this
			// condition does not hold and the breaker does not trip.
			return counts.ConsecutiveSuccesses >= 3
		},
	})
	return g
}

// NoteContention records that the lower tier's availability has dropped
// below its startup value, the one-way WARMING_UP -> ACTIVE_UPPER
// transition of spec §4.10.
func (g *ReconfigureGate) NoteContention() {
	g.upperContention = true
}

// Phase reports the controller's current state. ACTIVE_UPPER is the
// steady post-contention resting state (spec §4.10); ACTIVE_REBIND is
// transient, holding only while a migration submitted through Attempt
// is actually executing (spec §4.9 step 7), whether the breaker is
// closed, half-open, or cooling down in its open state.
func (g *ReconfigureGate) Phase() Phase {
	if !g.upperContention {
		return WarmingUp
	}
	if g.rebinding.Load() {
		return ActiveRebind
	}
	return ActiveUpper
}

// ErrGateClosed is returned by Attempt when the compound hysteresis
// condition is not met and no rebind should occur this interval.
var ErrGateClosed = fmt.Errorf("online: reconfiguration gate closed this interval")

// Attempt runs fn (the actual set-devices migration work) iff: contention
// has been observed, totalValue clears the grace threshold, and
// weightToRebind/totalWeight clears the configured ratio (spec §4.9 step
// 6). Back-to-back rebinds that pass these checks all execute; the
// breaker does not throttle them.
func (g *ReconfigureGate) Attempt(nobind bool, totalValue, weightToRebind, totalWeight float64, fn func() error) error {
	if nobind || !g.upperContention {
		return ErrGateClosed
	}
	if totalValue < g.graceValue {
		return ErrGateClosed
	}
	if totalWeight <= 0 || weightToRebind/totalWeight < g.reconfRatio {
		return ErrGateClosed
	}

	g.rebinding.Store(true)
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	g.rebinding.Store(false)
	return err
}
