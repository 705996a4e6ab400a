package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/plan"
)

var initSession string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Parse the plan and create the orchestration state",
	Long: `Parse the task plan, validate its dependency graph, apply the
optional backend classification and seed the orchestration state
document. Fails if a state document already exists.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initSession, "session", "", "session name (default: plan file name)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.close()

	graph, err := plan.ParseFile(ws.cfg.Paths.PlanFile)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", ws.cfg.Paths.PlanFile, err)
	}

	if path := ws.cfg.Paths.ClassificationFile; path != "" {
		classes, err := plan.LoadClassification(path)
		if err != nil {
			return fmt.Errorf("loading classification: %w", err)
		}
		if err := graph.ApplyClassification(classes); err != nil {
			return fmt.Errorf("applying classification: %w", err)
		}
	}

	session := initSession
	if session == "" {
		session = ws.cfg.Paths.PlanFile
	}

	doc := graph.Seed(session, ws.cfg.Paths.PlanFile)
	if err := ws.store.Init(doc); err != nil {
		return fmt.Errorf("initializing state: %w", err)
	}

	fmt.Printf("Session %q initialized with %d tasks\n", session, len(doc.Tasks))
	fmt.Printf("State document: %s\n", ws.store.Path())
	return nil
}
