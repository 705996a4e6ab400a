// Package orchestrator drives the outer run loop: dispatch work, review
// it, consolidate findings and sync the pulse, until the plan completes
// or a halt condition fires.
package orchestrator

import (
	"context"
	"time"

	"github.com/maestro-run/maestro/internal/consolidate"
	"github.com/maestro-run/maestro/internal/logging"
	"github.com/maestro-run/maestro/internal/pulse"
	"github.com/maestro-run/maestro/internal/review"
	"github.com/maestro-run/maestro/internal/scheduler"
	"github.com/maestro-run/maestro/internal/state"
)

// Exit codes reported by Run. Anything demanding a human shares code 2.
const (
	ExitComplete        = 0
	ExitBudgetExhausted = 1
	ExitNeedsHuman      = 2
)

type Config struct {
	// CycleBudget caps how many full loop iterations a run may take.
	CycleBudget int

	// StagnationLimit is how many consecutive cycles may pass without
	// the state document version advancing before the run gives up.
	StagnationLimit int
}

func DefaultConfig() Config {
	return Config{CycleBudget: 50, StagnationLimit: 5}
}

// Orchestrator owns one run of a plan.
type Orchestrator struct {
	store       *state.Store
	coordinator *scheduler.Coordinator
	reviewer    *review.Orchestrator
	engine      *consolidate.Engine
	syncer      *pulse.Syncer
	log         *logging.Logger
	cfg         Config
}

func New(
	store *state.Store,
	coordinator *scheduler.Coordinator,
	reviewer *review.Orchestrator,
	engine *consolidate.Engine,
	syncer *pulse.Syncer,
	log *logging.Logger,
	cfg Config,
) *Orchestrator {
	if log == nil {
		log = logging.NopLogger()
	}
	if cfg.CycleBudget < 1 {
		cfg.CycleBudget = DefaultConfig().CycleBudget
	}
	if cfg.StagnationLimit < 1 {
		cfg.StagnationLimit = DefaultConfig().StagnationLimit
	}
	return &Orchestrator{
		store:       store,
		coordinator: coordinator,
		reviewer:    reviewer,
		engine:      engine,
		syncer:      syncer,
		log:         log.WithPhase("orchestrator"),
		cfg:         cfg,
	}
}

// Run loops until a halt condition and returns the process exit code:
// 0 when every task completed, 1 when the cycle budget ran out or the
// document stopped advancing, 2 when a human has to step in (pending
// decisions or a halt marker from an executor). A document stuck on
// blocked tasks with no decision attached surfaces as stagnation.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	lastVersion := int64(-1)
	stagnant := 0

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return ExitNeedsHuman, err
		}

		o.log.Info("cycle started", "cycle", cycle)

		if _, err := o.coordinator.RunCycle(ctx); err != nil {
			return ExitNeedsHuman, err
		}
		if _, err := o.reviewer.RunCycle(ctx); err != nil {
			return ExitNeedsHuman, err
		}
		if _, err := o.engine.RunCycle(); err != nil {
			return ExitNeedsHuman, err
		}
		if _, err := o.syncer.Sync(time.Now()); err != nil {
			return ExitNeedsHuman, err
		}

		doc, err := o.store.Load()
		if err != nil {
			return ExitNeedsHuman, err
		}

		if code, halted := o.haltCode(doc); halted {
			o.log.Info("run halted", "cycle", cycle, "exit", code)
			return code, nil
		}

		if doc.Version == lastVersion {
			stagnant++
			if stagnant >= o.cfg.StagnationLimit {
				o.log.Error("run stagnated", "cycles", stagnant, "version", doc.Version)
				return ExitBudgetExhausted, nil
			}
		} else {
			stagnant = 0
			lastVersion = doc.Version
		}

		if cycle >= o.cfg.CycleBudget {
			o.log.Error("cycle budget exhausted", "budget", o.cfg.CycleBudget)
			return ExitBudgetExhausted, nil
		}
	}
}

// haltCode checks the terminal conditions in precedence order: a clean
// finish wins, then anything that needs a human.
func (o *Orchestrator) haltCode(doc *state.Document) (int, bool) {
	if doc.AllCompleted() {
		return ExitComplete, true
	}
	if o.coordinator.HaltRequested() {
		return ExitNeedsHuman, true
	}
	if len(doc.PendingDecisions) > 0 {
		return ExitNeedsHuman, true
	}
	return 0, false
}
