// Package retry decides whether a failed (or unsatisfying) attempt of
// a logical request should be executed again, and how long to wait
// before doing so. The execution engine consumes a Policy as a
// strategy; it never retries on its own.
package retry

import "time"

// Attempt is the snapshot of the most recent attempt a policy inspects.
type Attempt struct {
	// N is the zero-based index of the attempt that just finished.
	N int

	// Err is the classified error of the attempt, nil on success.
	Err error

	// StatusCode is the response status, zero when no response was
	// received.
	StatusCode int
}

// A Decider decides if a retry should be done.
type Decider interface {
	Decide(a Attempt) bool
}

// A Waiter computes the wait period before the next attempt.
type Waiter interface {
	Wait(a Attempt) time.Duration
}

// Policy controls if and how attempts are retried.
type Policy interface {
	Decider
	Waiter
}

type policy struct {
	Decider
	Waiter
}

// NewPolicy composes a Decider and a Waiter into a Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	return policy{Decider: d, Waiter: w}
}

// DeciderFunc adapts a function into a [Decider] and allows logical
// composition via And/Or.
type DeciderFunc func(a Attempt) bool

func (f DeciderFunc) Decide(a Attempt) bool { return f(a) }

// And short-circuits: g is not evaluated when f declines.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(a Attempt) bool { return f(a) && g(a) }
}

// Or short-circuits: g is not evaluated when f accepts.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(a Attempt) bool { return f(a) || g(a) }
}

// WaiterFunc adapts a function into a [Waiter].
type WaiterFunc func(a Attempt) time.Duration

func (f WaiterFunc) Wait(a Attempt) time.Duration { return f(a) }

// Times allows up to n retries (n+1 total attempts).
func Times(n int) DeciderFunc {
	return func(a Attempt) bool { return a.N < n }
}

// OnError accepts only attempts that finished with an error.
func OnError() DeciderFunc {
	return func(a Attempt) bool { return a.Err != nil }
}

// StatusCode accepts attempts whose response carried one of the given
// status codes.
func StatusCode(ss ...int) DeciderFunc {
	ss2 := make([]int, len(ss))
	copy(ss2, ss)
	return func(a Attempt) bool {
		for _, s := range ss2 {
			if a.StatusCode == s {
				return true
			}
		}
		return false
	}
}

// FixedWait waits the same period before every retry.
func FixedWait(d time.Duration) WaiterFunc {
	return func(Attempt) time.Duration { return d }
}

// ExpWait doubles the wait on every attempt, capped at limit.
func ExpWait(base, limit time.Duration) WaiterFunc {
	return func(a Attempt) time.Duration {
		d := base << uint(a.N)
		if d > limit || d <= 0 {
			return limit
		}
		return d
	}
}

// DefaultTimes is the number of retries [Default] allows.
const DefaultTimes = 3

// Default retries transport-level failures and throttling-ish status
// codes a few times with exponential backoff.
var Default Policy = NewPolicy(
	Times(DefaultTimes).And(OnError().Or(StatusCode(429, 502, 503, 504))),
	ExpWait(100*time.Millisecond, 2*time.Second),
)

// Never performs no retries.
var Never Policy = NewPolicy(Times(0), FixedWait(0))
