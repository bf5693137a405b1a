package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rheahq/rhea/internal/infra"
	"github.com/rheahq/rhea/internal/usecase"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <path>...",
	Short: "Delete stale files and empty directories",
	Long: `Removes the given paths. Directories are only removed when empty; a
non-empty directory is skipped, never recursed into. Without --confirm
every deletion is planned only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	janitor := usecase.NewJanitor(infra.NewFileSystemManager(), a.events, a.logger)
	sc := safetyContext("rhea")

	var failed int
	for _, res := range janitor.PlanOrDelete(sc, args) {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("  %-10s %s (%v)\n", res.Outcome, res.Path, res.Err)
		default:
			fmt.Printf("  %-10s %s\n", res.Outcome, res.Path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d path(s) could not be deleted", failed)
	}
	return nil
}
