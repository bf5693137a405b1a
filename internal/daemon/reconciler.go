package daemon

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
	"github.com/rheahq/rhea/internal/usecase"
)

// ReconcilerConfig holds reconciler daemon configuration.
type ReconcilerConfig struct {
	Debounce time.Duration // Quiet period after the last fs event before syncing
}

// DefaultReconcilerConfig returns default reconciler configuration.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Debounce: 2 * time.Second,
	}
}

// Reconciler watches the daemons directory and re-syncs the registry when
// its contents change. Events are debounced so a burst of writes (an rsync,
// a git checkout) triggers a single sync.
type Reconciler struct {
	config      ReconcilerConfig
	safety      domain.SafetyContext
	daemonsRoot string
	syncer      *usecase.Syncer
	logger      *zap.Logger
}

// NewReconciler creates a new reconciler daemon. Syncs run under the given
// SafetyContext: an unconfirmed serve invocation reports pending changes
// without persisting the registry.
func NewReconciler(config ReconcilerConfig, safety domain.SafetyContext, daemonsRoot string, syncer *usecase.Syncer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config:      config,
		safety:      safety,
		daemonsRoot: daemonsRoot,
		syncer:      syncer,
		logger:      logger,
	}
}

// Run starts the reconciler loop.
// This blocks until context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.daemonsRoot); err != nil {
		return err
	}
	r.logger.Info("reconciler watching daemons directory", zap.String("dir", r.daemonsRoot))

	// The debounce timer starts stopped; any fs event (re)arms it.
	debounce := time.NewTimer(r.config.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.logger.Debug("fs event", zap.String("op", event.Op.String()), zap.String("path", event.Name))
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(r.config.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("fs watch error", zap.Error(err))

		case <-debounce.C:
			r.sync()
		}
	}
}

// sync runs one registry synchronization under the serve SafetyContext.
func (r *Reconciler) sync() {
	result, err := r.syncer.Sync(r.safety)
	if err != nil {
		r.logger.Warn("reconcile sync failed", zap.Error(err))
		return
	}
	if len(result.Changes) > 0 {
		r.logger.Info("registry reconciled",
			zap.Int("discovered", result.Discovered),
			zap.Bool("saved", result.Saved),
			zap.Strings("changes", result.Changes))
	}
}
