package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/pulse"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one pulse sync pass",
	Long: `Escalate pending decisions that crossed the aging threshold and
re-render the pulse document. Safe to run repeatedly.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.close()

	syncer := pulse.NewSyncer(ws.store, ws.pulsePath(), ws.log, pulse.Config{
		DecisionEscalation: ws.cfg.Sync.DecisionEscalationAge(),
		BlockedStale:       ws.cfg.Sync.BlockedStaleAge(),
	})

	escalated, err := syncer.Sync(time.Now())
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	if escalated > 0 {
		fmt.Printf("Escalated %d pending decision(s)\n", escalated)
	}
	fmt.Printf("Pulse written to %s\n", ws.pulsePath())
	return nil
}
