package editor

import (
	"io"
	"log"
	"sync"
	"time"
)

// Defaults for focus reconciliation. A refresh redraws at most twice (schema, then
// data); one extra attempt is kept spare.
const (
	DefaultMaxAttempts       = 3
	DefaultHighlightDuration = 2 * time.Second
)

// ReconcileState is the state of the focus reconciler.
type ReconcileState int

const (
	ReconcileIdle ReconcileState = iota
	ReconcileAwaiting
	ReconcileResolved
	// ReconcileGaveUp is terminal and silent: the target is presumed filtered out.
	ReconcileGaveUp
)

func (s ReconcileState) String() string {
	switch s {
	case ReconcileAwaiting:
		return "awaiting-redraw"
	case ReconcileResolved:
		return "resolved"
	case ReconcileGaveUp:
		return "gave-up"
	default:
		return "idle"
	}
}

// PendingFocus is a request to scroll to and highlight a row once it is rendered.
type PendingFocus struct {
	Target            int64
	AttemptsRemaining int
}

// ReconcileResult reports how a focus request settled.
type ReconcileResult struct {
	Target   int64
	State    ReconcileState
	Attempts int
}

// Reconciler correlates redraw signals with a pending row focus. It is a small
// state machine: Idle -> Awaiting(attempts) -> Resolved | GaveUp. Each redraw
// consumes one attempt; the listener is detached on either terminal state.
type Reconciler struct {
	surface     Surface
	maxAttempts int
	highlight   time.Duration
	logger      *log.Logger

	mu        sync.Mutex
	state     ReconcileState
	pending   *PendingFocus
	detach    func()
	gen       uint64
	onSettled func(ReconcileResult)
}

// NewReconciler creates a reconciler bound to surface. Non-positive values select the defaults.
func NewReconciler(surface Surface, maxAttempts int, highlight time.Duration, logger *log.Logger) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if highlight <= 0 {
		highlight = DefaultHighlightDuration
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{
		surface:     surface,
		maxAttempts: maxAttempts,
		highlight:   highlight,
		logger:      logger,
	}
}

// OnSettled registers fn to run whenever a request resolves or gives up.
func (r *Reconciler) OnSettled(fn func(ReconcileResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSettled = fn
}

// State returns the current state.
func (r *Reconciler) State() ReconcileState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Pending returns the outstanding request, if any.
func (r *Reconciler) Pending() (PendingFocus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return PendingFocus{}, false
	}
	return *r.pending, true
}

// Arm starts listening for target. It must be called before the refresh that
// renders the row so the first redraw is not missed. Any previous request is
// replaced and its listener detached.
func (r *Reconciler) Arm(target int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked()
	r.gen++
	gen := r.gen
	r.state = ReconcileAwaiting
	r.pending = &PendingFocus{Target: target, AttemptsRemaining: r.maxAttempts}
	r.detach = r.surface.OnRedraw(func() { r.redrawn(gen) })
}

// Cancel drops any outstanding request and returns to Idle.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
	r.state = ReconcileIdle
}

func (r *Reconciler) cancelLocked() {
	if r.detach != nil {
		r.detach()
		r.detach = nil
	}
	r.pending = nil
}

// redrawn handles one redraw signal for the request armed as generation gen.
func (r *Reconciler) redrawn(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.state != ReconcileAwaiting || r.pending == nil {
		r.mu.Unlock()
		return
	}

	target := r.pending.Target
	r.pending.AttemptsRemaining--
	attempts := r.maxAttempts - r.pending.AttemptsRemaining

	found := r.surface.HasRow(target)
	if !found && r.pending.AttemptsRemaining > 0 {
		r.mu.Unlock()
		return
	}

	res := ReconcileResult{Target: target, Attempts: attempts, State: ReconcileGaveUp}
	if found {
		res.State = ReconcileResolved
	}
	r.state = res.State
	r.cancelLocked()
	onSettled := r.onSettled
	r.mu.Unlock()

	if found {
		r.surface.ScrollTo(target)
		r.surface.Highlight(target, r.highlight)
	} else {
		r.logger.Printf("row %d not rendered after %d redraws, focus dropped", target, attempts)
	}
	if onSettled != nil {
		onSettled(res)
	}
}
