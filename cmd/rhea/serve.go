package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and reconciler in the foreground",
	Long: `Runs rhea as a long-lived supervisor: registry tasks fire on their
cron schedules and the daemons directory is watched so new or removed
scripts are reconciled into the registry automatically. SIGINT or SIGTERM
triggers an orderly shutdown that stops tracked children first.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	supervisor := a.supervisor()
	syncer := a.syncer()

	// One gate for the whole serve lifetime: the initial sync, every
	// reconcile, and every scheduled task fire under it.
	sc := safetyContext("rhea")

	if _, err := syncer.Sync(sc); err != nil {
		a.logger.Warn("initial sync failed", zap.Error(err))
	}

	scheduler := daemon.NewScheduler(
		daemon.DefaultSchedulerConfig(),
		sc,
		a.registry,
		supervisor,
		a.events,
		a.logger,
	)
	reconciler := daemon.NewReconciler(
		daemon.DefaultReconcilerConfig(),
		sc,
		a.daemonsRoot,
		syncer,
		a.logger,
	)

	errCh := make(chan error, 2)
	go func() { errCh <- scheduler.Run(ctx) }()
	go func() { errCh <- reconciler.Run(ctx) }()

	fmt.Printf("rhea serving (daemons: %s, work: %s)\n", a.daemonsRoot, a.workRoot)

	// First loop exit wins; cancel the other and wait for it.
	firstErr := <-errCh
	cancel()
	<-errCh

	// Children get a bounded window to exit after the loops are down.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	supervisor.StopAll(shutdownCtx)

	if firstErr != nil && firstErr != context.Canceled {
		return firstErr
	}
	fmt.Println("rhea stopped")
	return nil
}
