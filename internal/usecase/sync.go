package usecase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

// SyncResult reports one discovery-reconcile-save pass.
type SyncResult struct {
	Changes    []string
	Discovered int
	Saved      bool
}

// Syncer runs the scan pipeline: discover daemons on disk, merge them into
// the registry, and persist. Under dry-run the change lines are produced
// but the registry file is untouched.
type Syncer struct {
	source   domain.DaemonSource
	registry domain.RegistryStore
	events   domain.EventLog
	logger   *zap.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(source domain.DaemonSource, registry domain.RegistryStore, events domain.EventLog, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{source: source, registry: registry, events: events, logger: logger}
}

// Sync runs one pass under the given SafetyContext.
func (s *Syncer) Sync(sc domain.SafetyContext) (*SyncResult, error) {
	discovered, err := s.source.Discover()
	if err != nil {
		return nil, fmt.Errorf("discover daemons: %w", err)
	}

	state, err := s.registry.Load()
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	changes := s.registry.Reconcile(state, discovered)
	result := &SyncResult{Changes: changes, Discovered: len(discovered)}

	if sc.DryRun {
		s.record(domain.NewEvent("rhea", domain.ActionScan, s.registry.Path(), domain.OutcomePlanned).
			WithExtra("changes", len(changes)))
		return result, nil
	}

	if err := s.registry.Save(state, true); err != nil {
		s.record(domain.NewEvent("rhea", domain.ActionScan, s.registry.Path(), domain.OutcomeError).WithError(err))
		return nil, err
	}

	result.Saved = true
	s.record(domain.NewEvent("rhea", domain.ActionScan, s.registry.Path(), domain.OutcomeOK).
		WithExtra("changes", len(changes)))
	return result, nil
}

// Snapshot merges the registry with a fresh discovery pass, so listings show
// daemons that have not been scanned in yet. Registered records always win;
// the second return value counts the daemons seen only on disk.
func (s *Syncer) Snapshot() (map[string]domain.DaemonRecord, int, error) {
	state, err := s.registry.Load()
	if err != nil {
		return nil, 0, fmt.Errorf("load registry: %w", err)
	}
	discovered, err := s.source.Discover()
	if err != nil {
		return nil, 0, fmt.Errorf("discover daemons: %w", err)
	}

	merged := make(map[string]domain.DaemonRecord, len(state.Daemons)+len(discovered))
	for key, rec := range state.Daemons {
		merged[key] = rec
	}
	unregistered := 0
	for _, rec := range discovered {
		if _, ok := merged[rec.Key()]; ok {
			continue
		}
		merged[rec.Key()] = rec
		unregistered++
	}
	return merged, unregistered, nil
}

func (s *Syncer) record(e domain.EventEntry) {
	if err := s.events.Record(e); err != nil {
		s.logger.Warn("failed to record event", zap.Error(err))
	}
}
