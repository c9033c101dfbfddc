package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"concord/internal/orchestrator"
)

var submitDir string

// workflowCmd validates a workflow definition and optionally submits it
// to a running instance by dropping it into the watched directory.
var workflowCmd = &cobra.Command{
	Use:   "workflow [definition.yaml]",
	Short: "Validate or submit a workflow definition",
	Long: `Parses a workflow definition, checks step ids, dependencies, and
the dependency graph for cycles, and prints the step plan. With
--submit-dir (or orchestrator.watch_dir in the config) the file is
copied into the watched directory where a running instance picks it up.`,
	Args: cobra.ExactArgs(1),
	RunE: submitWorkflow,
}

func init() {
	workflowCmd.Flags().StringVar(&submitDir, "submit-dir", "", "watched directory of a running instance")
}

func submitWorkflow(cmd *cobra.Command, args []string) error {
	path := args[0]
	def, err := orchestrator.LoadDefinition(path)
	if err != nil {
		return err
	}

	// Dry-run the full create path so submission can't enqueue a
	// definition a running instance would reject.
	probe := orchestrator.New(nopDispatcher{}, logger)
	if _, err := probe.CreateWorkflow(def); err != nil {
		return err
	}

	fmt.Printf("workflow %q: %d steps\n", def.Name, len(def.Steps))
	for _, s := range def.Steps {
		if len(s.DependsOn) > 0 {
			fmt.Printf("  %-20s after %v\n", s.ID, s.DependsOn)
		} else {
			fmt.Printf("  %-20s\n", s.ID)
		}
	}

	dir := submitDir
	if dir == "" {
		dir = cfg.Orchestrator.WatchDir
	}
	if dir == "" {
		fmt.Println("valid; no watch directory configured, not submitted")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	target := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("submit workflow: %w", err)
	}
	fmt.Println("submitted to", target)
	return nil
}
