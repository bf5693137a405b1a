package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover daemons and synchronize the registry",
	Long: `Walks the daemons directory, extracts metadata from scripts and sidecar
manifests, and merges the result into the registry. User edits (the enabled
flag, renames in casing) are preserved; daemons whose scripts vanished are
disabled, never deleted. Without --confirm the changes are printed but not
saved.`,
	RunE: runScanCmd,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	sc := safetyContext("rhea")
	result, err := a.syncer().Sync(sc)
	if err != nil {
		return err
	}

	fmt.Printf("discovered %d daemon(s) under %s\n", result.Discovered, a.daemonsRoot)
	if len(result.Changes) == 0 {
		fmt.Println("registry is up to date")
		return nil
	}
	for _, change := range result.Changes {
		fmt.Println("  " + change)
	}
	if result.Saved {
		fmt.Printf("saved %s\n", a.registry.Path())
	} else {
		fmt.Println("dry run: registry not modified")
	}
	return nil
}
