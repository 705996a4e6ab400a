package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/consolidate"
	"github.com/maestro-run/maestro/internal/executor"
	"github.com/maestro-run/maestro/internal/orchestrator"
	"github.com/maestro-run/maestro/internal/pulse"
	"github.com/maestro-run/maestro/internal/review"
	"github.com/maestro-run/maestro/internal/scheduler"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the plan to completion",
	Long: `Run the orchestration loop: dispatch ready tasks to their
backends, review completed work, consolidate findings and update
the pulse document, cycling until the plan completes or a halt
condition fires.

Exit codes: 0 all tasks completed, 1 cycle budget or progress
exhausted, 2 a human has to step in.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway := executor.NewSubprocessGateway(ws.cfg.Executor, ws.log)

	coordinator := scheduler.New(ws.store, gateway, ws.log, scheduler.Config{
		MaxParallel:    ws.cfg.Scheduler.MaxParallel,
		Workdir:        ws.cfg.Executor.Workdir,
		MaxFixAttempts: ws.cfg.FixLoop.MaxAttempts,
	})
	reviewer := review.New(ws.store, gateway, ws.log, review.Config{
		BackendKind:      ws.cfg.Review.BackendKind,
		ComplexReviewers: ws.cfg.Review.ComplexReviewers,
		Workdir:          ws.cfg.Executor.Workdir,
	})
	engine := consolidate.New(ws.store, ws.log, consolidate.Config{
		ComplexReviewers:    ws.cfg.Review.ComplexReviewers,
		EscalationThreshold: ws.cfg.FixLoop.EscalationThreshold,
		MaxFixAttempts:      ws.cfg.FixLoop.MaxAttempts,
	})
	syncer := pulse.NewSyncer(ws.store, ws.pulsePath(), ws.log, pulse.Config{
		DecisionEscalation: ws.cfg.Sync.DecisionEscalationAge(),
		BlockedStale:       ws.cfg.Sync.BlockedStaleAge(),
	})

	o := orchestrator.New(ws.store, coordinator, reviewer, engine, syncer, ws.log, orchestrator.Config{
		CycleBudget:     ws.cfg.Scheduler.CycleBudget,
		StagnationLimit: ws.cfg.Scheduler.StagnationLimit,
	})

	code, err := o.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run aborted: %v\n", err)
	}
	if code != orchestrator.ExitComplete {
		ws.close()
		os.Exit(code)
	}

	fmt.Println("All tasks completed")
	return nil
}
