package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run status",
	Long:  `Display every task with its lifecycle status, plus blockers and pending decisions.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.close()

	doc, err := ws.store.Load()
	if err != nil {
		fmt.Println("No active session")
		return nil
	}

	fmt.Printf("Session: %s\n", doc.SessionName)
	fmt.Printf("Plan: %s\n", doc.SpecPath)
	fmt.Printf("Version: %d\n\n", doc.Version)

	counts := doc.StatusCounts()
	for _, s := range state.AllStatuses {
		if counts[s] > 0 {
			fmt.Printf("%-15s %d\n", s, counts[s])
		}
	}
	fmt.Println()

	for _, id := range doc.OrderedTaskIDs() {
		t := doc.Tasks[id]
		indent := ""
		if t.ParentID != "" {
			indent = "  "
		}
		fmt.Printf("%s%s [%s] %s\n", indent, t.ID, t.Status, t.Description)
	}

	if len(doc.BlockedItems) > 0 {
		fmt.Println("\nBlocked:")
		for _, b := range doc.BlockedItems {
			fmt.Printf("  %s since %s: %s\n", b.TaskID, b.Since.Format("2006-01-02 15:04:05"), b.Reason)
		}
	}
	if len(doc.PendingDecisions) > 0 {
		fmt.Println("\nPending decisions:")
		for _, d := range doc.PendingDecisions {
			marker := ""
			if d.Escalated {
				marker = " (escalated)"
			}
			fmt.Printf("  %s%s: %s\n", d.ID, marker, d.Question)
		}
	}

	return nil
}
