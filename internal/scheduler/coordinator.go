package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/maestro-run/maestro/internal/errors"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/state"
)

// Config holds coordinator settings.
type Config struct {
	// MaxParallel caps concurrent backend invocations per batch.
	MaxParallel int
	// Workdir is handed to every backend invocation.
	Workdir string
	// MaxFixAttempts parks a task blocked instead of re-dispatching it
	// once its fix cycles reach this count. Zero means no budget.
	MaxFixAttempts int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxParallel:    4,
		MaxFixAttempts: 3,
	}
}

// Coordinator drives dispatch cycles: it computes the batch against a
// consistent snapshot of the state document, applies the at-most-once
// dispatch gate, invokes the gateway for each unit concurrently, and
// applies outcomes through the store's single mutation path.
type Coordinator struct {
	store   *state.Store
	gateway executor.Gateway
	claims  *Claims
	log     *logging.Logger
	cfg     Config

	mu       sync.Mutex
	inFlight map[string]bool

	halted atomic.Bool
}

// New creates a Coordinator.
func New(store *state.Store, gateway executor.Gateway, log *logging.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = logging.NopLogger()
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Coordinator{
		store:    store,
		gateway:  gateway,
		claims:   NewClaims(),
		log:      log.WithPhase("dispatch"),
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

// HaltRequested reports whether any backend embedded an explicit halt
// marker in its output.
func (c *Coordinator) HaltRequested() bool { return c.halted.Load() }

// RunCycle executes one dispatch cycle and returns how many units were
// handed to the gateway. While any blocked task awaits resolution, no
// new batch is started; resolution arrives externally as a blocked ->
// not_started or blocked -> in_progress transition on the unit root.
func (c *Coordinator) RunCycle(ctx context.Context) (int, error) {
	doc, err := c.store.Load()
	if err != nil {
		return 0, err
	}

	if gating := gatingBlocked(doc); len(gating) > 0 {
		c.log.Info("skipping dispatch, blocked tasks need resolution",
			"blocked", gating)
		return 0, nil
	}

	candidates, err := c.collectCandidates(doc)
	if err != nil {
		return 0, err
	}
	batch := BuildBatch(candidates, c.cfg.MaxParallel)
	if len(batch) == 0 {
		return 0, nil
	}

	var dispatched []*DispatchUnit
	for _, u := range batch {
		if err := c.gateUnit(doc, u); err != nil {
			// Lost the gate: another pass already moved the unit on.
			c.log.Warn("unit lost dispatch gate", "unit", u.RootID, "err", err.Error())
			continue
		}
		dispatched = append(dispatched, u)
	}
	if len(dispatched) == 0 {
		return 0, nil
	}

	c.log.Info("dispatching batch", "units", unitIDs(dispatched))

	p := pool.New().WithMaxGoroutines(c.cfg.MaxParallel)
	for _, u := range dispatched {
		u := u // capture per-iteration; required while go.mod targets go < 1.22
		p.Go(func() {
			c.executeUnit(ctx, doc, u)
		})
	}
	p.Wait()

	return len(dispatched), nil
}

// gatingBlocked returns the blocked tasks that still need external
// resolution. A blocked child whose unit root has already been resolved
// back to not_started or in_progress does not gate: gateUnit returns it
// to not_started when the unit re-dispatches.
func gatingBlocked(doc *state.Document) []string {
	var out []string
	for _, u := range Units(doc) {
		root := doc.Tasks[u.RootID]
		if root.Status == state.StatusBlocked {
			out = append(out, u.RootID)
			continue
		}
		if !executionDone(root.Status) {
			continue
		}
		for _, child := range u.ChildIDs() {
			if doc.Tasks[child].Status == state.StatusBlocked {
				out = append(out, child)
			}
		}
	}
	return out
}

// collectCandidates walks units in discovery order and picks those
// eligible this cycle: fresh units whose root is not_started with all
// external dependencies completed, fix-cycle units sent back to
// in_progress by consolidation, and units whose root finished execution
// but consolidation sent a descendant back. A task that exhausted its
// fix budget is parked blocked instead.
func (c *Coordinator) collectCandidates(doc *state.Document) ([]*DispatchUnit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*DispatchUnit
	for _, u := range Units(doc) {
		if c.inFlight[u.RootID] {
			continue
		}
		root := doc.Tasks[u.RootID]
		switch {
		case root.Status == state.StatusNotStarted:
			if DependenciesSatisfied(doc, u) {
				out = append(out, u)
			}
		case root.Status == state.StatusInProgress && root.FixAttempts > 0:
			// Fix-cycle re-entry: consolidation moved the root back to
			// in_progress with its findings retained.
			parked, err := c.parkExhausted(u.RootID, root.FixAttempts)
			if err != nil {
				return nil, err
			}
			if !parked {
				out = append(out, u)
			}
		case executionDone(root.Status):
			eligible, err := c.childNeedsDispatch(doc, u)
			if err != nil {
				return nil, err
			}
			if eligible {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

// childNeedsDispatch reports whether a unit whose root finished
// execution still has a child to run: one sent back for a fix cycle, or
// one returned to not_started when its blocker was resolved.
func (c *Coordinator) childNeedsDispatch(doc *state.Document, u *DispatchUnit) (bool, error) {
	eligible := false
	for _, child := range u.ChildIDs() {
		t := doc.Tasks[child]
		switch t.Status {
		case state.StatusNotStarted:
			eligible = true
		case state.StatusInProgress:
			if t.FixAttempts == 0 {
				continue
			}
			parked, err := c.parkExhausted(child, t.FixAttempts)
			if err != nil {
				return false, err
			}
			if !parked {
				eligible = true
			}
		}
	}
	return eligible, nil
}

// parkExhausted moves a fix-cycle task to blocked once its attempts
// reach the fix budget. Returns whether the task was parked.
func (c *Coordinator) parkExhausted(taskID string, attempts int) (bool, error) {
	if c.cfg.MaxFixAttempts == 0 || attempts < c.cfg.MaxFixAttempts {
		return false, nil
	}
	err := c.store.Update(func(d *state.Document) error {
		return d.Transition(taskID, state.StatusBlocked, "fix budget exhausted")
	})
	if err != nil {
		return false, err
	}
	c.log.Warn("fix budget exhausted", "task", taskID, "attempts", attempts)
	return true, nil
}

// gateUnit claims the unit's declared resources and applies the
// at-most-once dispatch gate. A fresh unit transitions not_started ->
// in_progress before invocation, making it invisible to a concurrent
// scheduling pass; blocked children of a resumed unit are returned to
// not_started so the outcome pass can move them uniformly.
func (c *Coordinator) gateUnit(doc *state.Document, u *DispatchUnit) error {
	if err := c.claims.Claim(u.RootID, append(append([]string{}, u.Writes...), u.Reads...)); err != nil {
		return err
	}

	err := c.store.Update(func(d *state.Document) error {
		root, err := d.Task(u.RootID)
		if err != nil {
			return err
		}
		if root.Status == state.StatusNotStarted {
			if err := d.Transition(u.RootID, state.StatusInProgress, ""); err != nil {
				return err
			}
		}
		for _, child := range u.ChildIDs() {
			if d.Tasks[child].Status == state.StatusBlocked {
				if err := d.Transition(child, state.StatusNotStarted, ""); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		c.claims.Release(u.RootID)
		return err
	}

	c.mu.Lock()
	c.inFlight[u.RootID] = true
	c.mu.Unlock()
	return nil
}

// executeUnit invokes the gateway for one unit and applies the outcome.
// Failures and timeouts become blocked status plus a BlockedItem; they
// never escape as errors.
func (c *Coordinator) executeUnit(ctx context.Context, doc *state.Document, u *DispatchUnit) {
	defer func() {
		c.claims.Release(u.RootID)
		c.mu.Lock()
		delete(c.inFlight, u.RootID)
		c.mu.Unlock()
	}()

	content, pending := BuildContent(doc, u)
	req := executor.Request{
		UnitID:            u.RootID,
		BackendKind:       u.OwnerKind,
		Workdir:           c.cfg.Workdir,
		Content:           content,
		DependencyContext: dependencyContext(doc, u, pending),
		ChildCount:        len(pending),
	}

	res, err := c.gateway.Execute(ctx, req)
	if err != nil {
		c.log.Error("gateway error", "unit", u.RootID, "err", err.Error())
		reason := "executor failure: " + err.Error()
		var execErr *errors.ExecutorError
		if errors.As(err, &execErr) {
			reason = "executor failure: " + execErr.Reason()
		}
		c.applyFailure(u, pending, 0, reason)
		return
	}

	if executor.HasHaltMarker(res.Output) {
		c.log.Warn("halt marker in backend output", "unit", u.RootID)
		c.halted.Store(true)
	}

	switch res.Status {
	case executor.StatusSuccess:
		c.applySuccess(u, pending)
	case executor.StatusTimeout:
		c.applyFailure(u, pending, res.CompletedChildren, "timeout")
	default:
		c.applyFailure(u, pending, res.CompletedChildren, "executor failure")
	}
}

// applySuccess moves the executed members to pending_review: each
// still-pending child through in_progress first unless a fix cycle
// already put it there, and the root only when it ran this invocation.
func (c *Coordinator) applySuccess(u *DispatchUnit, pending []string) {
	err := c.store.Update(func(d *state.Document) error {
		for _, child := range pending {
			if d.Tasks[child].Status == state.StatusNotStarted {
				if err := d.Transition(child, state.StatusInProgress, ""); err != nil {
					return err
				}
			}
			if err := d.Transition(child, state.StatusPendingReview, ""); err != nil {
				return err
			}
		}
		if d.Tasks[u.RootID].Status == state.StatusInProgress {
			return d.Transition(u.RootID, state.StatusPendingReview, "")
		}
		return nil
	})
	if err != nil {
		c.log.Error("apply success failed", "unit", u.RootID, "err", err.Error())
		return
	}
	c.log.Info("unit executed", "unit", u.RootID)
}

// applyFailure records a unit failure: children that completed before
// the failure point keep their results and move to pending_review, the
// failed child becomes blocked, trailing children stay untouched so a
// resume re-enters at the first non-completed child. The root is blocked
// too unless it already finished execution in an earlier invocation.
func (c *Coordinator) applyFailure(u *DispatchUnit, pending []string, completed int, reason string) {
	err := c.store.Update(func(d *state.Document) error {
		for i, child := range pending {
			switch {
			case i < completed:
				if d.Tasks[child].Status == state.StatusNotStarted {
					if err := d.Transition(child, state.StatusInProgress, ""); err != nil {
						return err
					}
				}
				if err := d.Transition(child, state.StatusPendingReview, ""); err != nil {
					return err
				}
			case i == completed:
				if err := d.Transition(child, state.StatusBlocked, reason); err != nil {
					return err
				}
			}
		}
		if d.Tasks[u.RootID].Status == state.StatusInProgress {
			return d.Transition(u.RootID, state.StatusBlocked, reason)
		}
		return nil
	})
	if err != nil {
		c.log.Error("apply failure failed", "unit", u.RootID, "err", err.Error())
		return
	}
	c.log.Warn("unit blocked", "unit", u.RootID, "reason", reason)
}

// dependencyContext assembles what the backend should know before it
// starts: final reports of completed dependencies and, on a fix cycle,
// the findings recorded against the members being re-run.
func dependencyContext(doc *state.Document, u *DispatchUnit, pending []string) string {
	var b strings.Builder

	for _, dep := range externalDependencies(doc, u) {
		t := doc.Tasks[dep]
		if t.Status == state.StatusCompleted && t.FinalReport != "" {
			fmt.Fprintf(&b, "dependency %s: %s\n", dep, t.FinalReport)
		}
	}

	wroteHeader := false
	for _, id := range append([]string{u.RootID}, pending...) {
		t := doc.Tasks[id]
		if t.Status == state.StatusCompleted {
			continue
		}
		for _, f := range t.ReviewFindings {
			if !wroteHeader {
				b.WriteString("prior review findings:\n")
				wroteHeader = true
			}
			fmt.Fprintf(&b, "- %s [%s] %s\n", id, f.Severity, f.Summary)
		}
	}
	return strings.TrimSpace(b.String())
}

func unitIDs(units []*DispatchUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.RootID
	}
	return ids
}
