// Package main is the CLI entry point for rhea.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rheahq/rhea/internal/domain"
	"github.com/rheahq/rhea/internal/infra"
	"github.com/rheahq/rhea/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rhea",
	Short: "Personal daemon supervisor",
	Long: `rhea discovers the small automation daemons living in this workspace,
keeps a registry of what it found, and launches them under a safety gate.
Mutating operations run in dry-run mode unless explicitly confirmed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered daemons",
	Long:  `Shows every daemon in the registry with its role, status, and safety level.`,
	RunE:  runList,
}

var describeCmd = &cobra.Command{
	Use:   "describe <daemon>",
	Short: "Show one daemon's full record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var (
	flagDryRun  bool
	flagConfirm bool
	flagVerbose bool
	jsonOutput  bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Plan only, never mutate")
	rootCmd.PersistentFlags().BoolVar(&flagConfirm, "confirm", false, "Allow mutating operations to actually run")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output records as JSON")
	describeCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the record as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(describeCmd)
}

// app bundles the wired components every command needs. Construction never
// fails on a missing registry file; the registry layer treats absence as an
// empty state.
type app struct {
	root        string
	workRoot    string
	daemonsRoot string

	logger   *zap.Logger
	registry *infra.FileRegistry
	events   *infra.JSONLEventLog
	source   *infra.FilesystemSource
	secrets  domain.SecretStore
}

func newApp() (*app, error) {
	logger := createLogger(flagVerbose)

	root := infra.ResolveRoot()
	workRoot := infra.ResolveWorkRoot(root)
	daemonsRoot := infra.ResolveDaemonDir(root)

	registry, err := infra.NewFileRegistry(workRoot, daemonsRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("registry init: %w", err)
	}

	return &app{
		root:        root,
		workRoot:    workRoot,
		daemonsRoot: daemonsRoot,
		logger:      logger,
		registry:    registry,
		events:      infra.NewJSONLEventLog(workRoot),
		source:      infra.NewFilesystemSource(daemonsRoot),
	}, nil
}

func (a *app) close() {
	if a.secrets != nil {
		_ = a.secrets.Close()
	}
	a.events.Close()
	_ = a.logger.Sync()
}

// openSecrets opens the encrypted secret store, creating the key on first
// use. Only commands that resolve or manage secrets pay this cost; the
// store is cached and closed with the app.
func (a *app) openSecrets() (domain.SecretStore, error) {
	if a.secrets != nil {
		return a.secrets, nil
	}
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(a.workRoot))
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	store, err := infra.NewEncryptedSecretStore(a.workRoot, key)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	a.secrets = store
	return store, nil
}

// supervisor wires the process supervisor. Secret store failures are
// downgraded to a warning; launches that need secrets will then fail
// individually instead of blocking every command.
func (a *app) supervisor() *usecase.Supervisor {
	var secrets domain.SecretStore
	if store, err := a.openSecrets(); err == nil {
		secrets = store
	} else {
		a.logger.Warn("secret store unavailable", zap.Error(err))
	}
	return usecase.NewSupervisor(
		a.registry,
		a.events,
		infra.NewExecLauncher(),
		infra.NewProcessManager(),
		secrets,
		a.daemonsRoot,
		a.logger,
	)
}

func (a *app) syncer() *usecase.Syncer {
	return usecase.NewSyncer(a.source, a.registry, a.events, a.logger)
}

// safetyContext builds the gate from the global flags and prints the
// downgrade notice when confirmation is missing.
func safetyContext(daemon string) domain.SafetyContext {
	sc := domain.NewSafetyContext(daemon, flagDryRun, flagConfirm)
	if sc.Downgraded() {
		fmt.Println("note: running in dry-run mode; pass --confirm to apply changes")
	}
	return sc
}

func createLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		config.Encoding = "console"
	}

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Registry merged with a live discovery pass, so a fresh workspace
	// lists its daemons before the first scan.
	daemons, unregistered, err := a.syncer().Snapshot()
	if err != nil {
		return err
	}

	if len(daemons) == 0 {
		fmt.Println("No daemons found. Drop scripts under the daemons directory and run 'rhea scan'.")
		return nil
	}

	if jsonOutput {
		return printJSON(daemons)
	}

	keys := make([]string, 0, len(daemons))
	for k := range daemons {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tROLE\tSTATUS\tENABLED\tSAFETY\tTEAM")
	for _, k := range keys {
		rec := daemons[k]
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			rec.Name, rec.Role, rec.Status, rec.Enabled, rec.SafetyLevel, rec.Team)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if unregistered > 0 {
		fmt.Printf("note: %d daemon(s) not yet registered (run 'rhea scan')\n", unregistered)
	}
	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	state, err := a.registry.Load()
	if err != nil {
		return err
	}

	_, rec := state.Lookup(args[0])
	if rec == nil {
		// Not registered yet; fall back to a fresh filesystem probe.
		discovered, err := a.source.Describe(args[0])
		if err != nil {
			return err
		}
		if discovered == nil {
			return fmt.Errorf("unknown daemon: %s", args[0])
		}
		rec = discovered
		fmt.Println("note: not in the registry yet (run 'rhea scan')")
	}

	if jsonOutput {
		return printJSON(rec)
	}

	fmt.Printf("Name:    %s\n", rec.Name)
	fmt.Printf("Role:    %s\n", rec.Role)
	fmt.Printf("Path:    %s\n", rec.Path)
	fmt.Printf("Status:  %s\n", rec.Status)
	fmt.Printf("Enabled: %t\n", rec.Enabled)
	fmt.Printf("Safety:  %s\n", rec.SafetyLevel)
	if rec.Team != "" {
		fmt.Printf("Team:    %s\n", rec.Team)
	}
	if rec.Group != "" {
		fmt.Printf("Group:   %s\n", rec.Group)
	}
	if len(rec.Tags) > 0 {
		fmt.Printf("Tags:    %v\n", rec.Tags)
	}
	if len(rec.Env) > 0 {
		keys := make([]string, 0, len(rec.Env))
		for k := range rec.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// Values stay hidden; they may hold secret references.
		fmt.Printf("Env:     %v\n", keys)
	}
	fmt.Printf("Start:   %s %v\n", rec.Start.Type, rec.Start.Args)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("rhea %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
