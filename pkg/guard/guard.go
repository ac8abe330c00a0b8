package guard

import (
	"sync"
	"time"

	"github.com/shopglue/chatwidget/pkg/logger"
)

// Clock abstracts wall time so staleness can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real-time clock.
func SystemClock() Clock { return systemClock{} }

// Guard is the advisory busy/idle flag serializing state-changing widget
// operations. It is checked by convention, not enforced by the runtime: a
// flag older than the staleness timeout is treated as stuck and self-clears
// so the UI becomes interactive again even if the operation never resolved.
type Guard struct {
	mu      sync.Mutex
	busy    bool
	op      string
	since   time.Time
	timeout time.Duration
	clock   Clock
}

// New creates a guard with the given staleness timeout. A zero or negative
// timeout falls back to 3 seconds.
func New(timeout time.Duration, clock Clock) *Guard {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Guard{timeout: timeout, clock: clock}
}

// IsBusy reports whether an operation is in progress. A flag set longer ago
// than the timeout is considered stale: it is cleared, logged, and false is
// returned.
func (g *Guard) IsBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.busy {
		return false
	}
	if g.clock.Now().Sub(g.since) >= g.timeout {
		logger.WarnCF("guard", "stale busy flag cleared",
			map[string]interface{}{"op": g.op, "age_ms": g.clock.Now().Sub(g.since).Milliseconds()})
		g.busy = false
		g.op = ""
		return false
	}
	return true
}

// TryAcquire sets the busy flag for the named operation. It returns false
// without side effects when another non-stale operation holds the flag.
func (g *Guard) TryAcquire(op string) bool {
	if g.IsBusy() {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	g.op = op
	g.since = g.clock.Now()
	return true
}

// Release clears the flag. Callers must release on every path, success or
// failure.
func (g *Guard) Release() {
	g.mu.Lock()
	g.busy = false
	g.op = ""
	g.mu.Unlock()
}

// Op returns the name of the operation currently holding the flag, or "".
func (g *Guard) Op() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.busy {
		return ""
	}
	return g.op
}
