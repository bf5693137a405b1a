package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rheahq/rhea/internal/infra"
	"github.com/rheahq/rhea/internal/usecase"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Probe every daemon's health",
	Long: `Sweeps every discovered daemon, probing declared capabilities and
invoking healthchecks where supported. One daemon failing its probe never
aborts the sweep. With --fix the registry is re-synchronized afterwards.`,
	RunE: runDoctor,
}

var doctorFix bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Re-synchronize the registry after the sweep")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	doctor := usecase.NewDoctor(
		a.source,
		infra.NewSidecarProber(a.daemonsRoot),
		a.syncer(),
		a.logger,
	)

	rows, err := doctor.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("no daemons found under %s\n", a.daemonsRoot)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tROLE\tCAPABILITIES\tHEALTH\tNOTES")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Name, row.Status, row.Role, row.Capabilities, row.Health, row.Notes)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !doctorFix {
		return nil
	}

	result, err := doctor.Fix()
	if err != nil {
		return err
	}
	printFix(result)
	return nil
}

func printFix(result *usecase.SyncResult) {
	if len(result.Changes) == 0 {
		fmt.Println("registry is up to date")
		return
	}
	fmt.Println("registry fixed:")
	for _, change := range result.Changes {
		fmt.Println("  " + change)
	}
}
