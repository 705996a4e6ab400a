package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/pulse"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-render the pulse document on every state change",
	Long: `Watch the state document and re-render the pulse markdown on
every complete write. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := pulse.NewWatcher(ws.cfg.Paths.StateFile, ws.store, ws.pulsePath(), ws.log, pulse.Config{
		DecisionEscalation: ws.cfg.Sync.DecisionEscalationAge(),
		BlockedStale:       ws.cfg.Sync.BlockedStaleAge(),
	})

	fmt.Printf("Watching %s, writing %s\n", ws.cfg.Paths.StateFile, ws.pulsePath())
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
