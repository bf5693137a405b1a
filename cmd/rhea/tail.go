package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rheahq/rhea/internal/domain"
	"github.com/rheahq/rhea/internal/usecase"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show event log entries",
	Long: `Prints event log entries as JSON lines, optionally filtered by daemon
or action. With --follow new entries are streamed as they are appended,
until interrupted.`,
	RunE: runTail,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate event outcomes",
	Long: `Counts event log entries grouped by daemon and outcome. With --daily
the counts are additionally split per day.`,
	RunE: runReport,
}

var (
	tailDaemon string
	tailAction string
	tailFollow bool
	tailLimit  int

	reportDaemon string
	reportDaily  bool
)

func init() {
	tailCmd.Flags().StringVar(&tailDaemon, "daemon", "", "Only entries for this daemon")
	tailCmd.Flags().StringVar(&tailAction, "action", "", "Only entries with this action")
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "Stream new entries until interrupted")
	tailCmd.Flags().IntVarP(&tailLimit, "lines", "n", 0, "Only the last N entries (0 = all)")

	reportCmd.Flags().StringVar(&reportDaemon, "daemon", "", "Only entries for this daemon")
	reportCmd.Flags().BoolVar(&reportDaily, "daily", false, "Split counts per day")

	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(reportCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	filter := domain.EventFilter{Daemon: tailDaemon, Action: tailAction}

	entries, err := a.events.Entries(filter)
	if err != nil {
		return err
	}
	if tailLimit > 0 && len(entries) > tailLimit {
		entries = entries[len(entries)-tailLimit:]
	}
	for _, e := range entries {
		printEntry(e)
	}

	if !tailFollow {
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = a.events.Follow(ctx, filter, printEntry)
	if err == ctx.Err() {
		return nil
	}
	return err
}

func printEntry(e domain.EventEntry) {
	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Println(string(line))
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	reporter := usecase.NewReporter(a.events)
	report, err := reporter.Aggregate(domain.EventFilter{Daemon: reportDaemon}, reportDaily)
	if err != nil {
		return err
	}

	if report.Total == 0 {
		fmt.Println("no events recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if reportDaily {
		fmt.Fprintln(w, "DAEMON\tDAY\tOUTCOME\tCOUNT")
		for _, row := range report.Rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", row.Daemon, row.Day, row.Outcome, row.Count)
		}
	} else {
		fmt.Fprintln(w, "DAEMON\tOUTCOME\tCOUNT")
		for _, row := range report.Rows {
			fmt.Fprintf(w, "%s\t%s\t%d\n", row.Daemon, row.Outcome, row.Count)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("total: %d event(s)\n", report.Total)
	return nil
}
