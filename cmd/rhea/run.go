package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <daemon> [-- args...]",
	Short: "Launch a daemon once and wait for it",
	Long: `Launches the named daemon and waits for it to exit. The daemon must be
registered, enabled, and have an executable entry point. Without --confirm
the launch is planned only.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return launch(cmd.Context(), args[0], args[1:], false)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <daemon> [-- args...]",
	Short: "Launch a daemon in continuous watch mode",
	Long: `Like run, but appends the cooperative --watch flag so daemons that
support it loop instead of running once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return launch(cmd.Context(), args[0], args[1:], true)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <daemon>",
	Short: "Stop a running daemon",
	Long: `Terminates the named daemon's process: graceful signal first, force
kill after the grace period. Stopping a daemon that is not running is a
no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

var (
	runScope   string
	runInclude []string
	runExclude []string
	runLogDir  string
	runConfig  string
)

func init() {
	for _, c := range []*cobra.Command{runCmd, watchCmd} {
		c.Flags().StringVar(&runScope, "scope", "", "Scope argument forwarded to the daemon")
		c.Flags().StringSliceVar(&runInclude, "include", nil, "Include patterns forwarded to the daemon")
		c.Flags().StringSliceVar(&runExclude, "exclude", nil, "Exclude patterns forwarded to the daemon")
		c.Flags().StringVar(&runLogDir, "log-dir", "", "Log directory forwarded to the daemon")
		c.Flags().StringVar(&runConfig, "config", "", "Config file forwarded to the daemon")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(stopCmd)
}

// forwardedArgs rebuilds the pass-through flags as child argv, followed by
// any positional extras after the daemon name.
func forwardedArgs(extras []string) []string {
	var args []string
	if runScope != "" {
		args = append(args, "--scope", runScope)
	}
	for _, inc := range runInclude {
		args = append(args, "--include", inc)
	}
	for _, exc := range runExclude {
		args = append(args, "--exclude", exc)
	}
	if runLogDir != "" {
		args = append(args, "--log-dir", runLogDir)
	}
	if runConfig != "" {
		args = append(args, "--config", runConfig)
	}
	return append(args, extras...)
}

func launch(ctx context.Context, name string, extras []string, watch bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sc := safetyContext(name)
	result, err := a.supervisor().Start(ctx, sc, name, forwardedArgs(extras), watch)
	if err != nil {
		return err
	}

	if result.Planned {
		fmt.Printf("planned: %v\n", result.Argv)
		return nil
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d", result.Daemon, result.ExitCode)
	}
	fmt.Printf("%s completed\n", result.Daemon)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.supervisor().Stop(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", args[0])
	return nil
}
