// Package daemon implements the scheduler and reconciler loops for serve mode.
package daemon

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
	"github.com/rheahq/rhea/internal/usecase"
)

// SchedulerConfig holds scheduler daemon configuration.
type SchedulerConfig struct {
	TickInterval      time.Duration // How often to evaluate due tasks
	HeartbeatInterval time.Duration // How often to record a heartbeat event
	ReloadInterval    time.Duration // How often to re-read tasks from the registry
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TickInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReloadInterval:    time.Minute,
	}
}

// scheduledTask pairs a registry task with its parsed cron schedule.
type scheduledTask struct {
	task     domain.Task
	schedule cron.Schedule
	nextRun  time.Time
}

// Scheduler fires registry tasks on their cron schedules.
// Tasks without a cron expression are ignored; a task whose expression fails
// to parse is skipped with a warning rather than aborting the loop.
type Scheduler struct {
	config     SchedulerConfig
	safety     domain.SafetyContext
	registry   domain.RegistryStore
	supervisor *usecase.Supervisor
	events     domain.EventLog
	logger     *zap.Logger
	parser     cron.Parser

	mu    sync.Mutex
	tasks map[string]*scheduledTask // task name -> schedule state
}

// NewScheduler creates a new scheduler daemon. Tasks fire under the given
// SafetyContext: an unconfirmed serve invocation plans launches instead of
// spawning children.
func NewScheduler(
	config SchedulerConfig,
	safety domain.SafetyContext,
	registry domain.RegistryStore,
	supervisor *usecase.Supervisor,
	events domain.EventLog,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:     config,
		safety:     safety,
		registry:   registry,
		supervisor: supervisor,
		events:     events,
		logger:     logger,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		tasks:      make(map[string]*scheduledTask),
	}
}

// Run starts the scheduler loop.
// This blocks until context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.reload(); err != nil {
		s.logger.Error("failed to load tasks", zap.Error(err))
		return err
	}
	s.logger.Info("scheduler started", zap.Int("tasks", s.taskCount()))

	tick := time.NewTicker(s.config.TickInterval)
	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	reload := time.NewTicker(s.config.ReloadInterval)
	defer func() {
		tick.Stop()
		heartbeat.Stop()
		reload.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()

		case <-tick.C:
			s.fireDue(time.Now())

		case <-heartbeat.C:
			s.recordHeartbeat()

		case <-reload.C:
			if err := s.reload(); err != nil {
				s.logger.Warn("failed to reload tasks", zap.Error(err))
			}
		}
	}
}

// reload re-reads the task list from the registry, preserving nextRun for
// tasks whose cron expression has not changed.
func (s *Scheduler) reload() error {
	state, err := s.registry.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	fresh := make(map[string]*scheduledTask, len(state.Tasks))
	for _, task := range state.Tasks {
		if strings.TrimSpace(task.Cron) == "" {
			continue
		}
		schedule, err := s.parser.Parse(task.Cron)
		if err != nil {
			s.logger.Warn("skipping task with invalid cron expression",
				zap.String("task", task.Name),
				zap.String("cron", task.Cron),
				zap.Error(err))
			continue
		}

		st := &scheduledTask{task: task, schedule: schedule, nextRun: schedule.Next(now)}
		if prev, ok := s.tasks[task.Name]; ok && prev.task.Cron == task.Cron {
			st.nextRun = prev.nextRun
		}
		fresh[task.Name] = st
	}
	s.tasks = fresh
	return nil
}

// fireDue launches every task whose nextRun has passed, then advances it.
func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	var due []*scheduledTask
	for _, st := range s.tasks {
		if !st.nextRun.After(now) {
			due = append(due, st)
			st.nextRun = st.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].task.Name < due[j].task.Name })

	for _, st := range due {
		s.fire(st.task)
	}
}

// fire spawns the task's target daemon detached, with the task command
// forwarded as extra arguments. The serve invocation's SafetyContext
// carries through, so an unconfirmed scheduler only records plans.
func (s *Scheduler) fire(task domain.Task) {
	s.logger.Info("firing scheduled task",
		zap.String("task", task.Name),
		zap.String("target", task.Target))

	var extra []string
	if strings.TrimSpace(task.Cmd) != "" {
		extra = strings.Fields(task.Cmd)
	}

	sc := domain.NewSafetyContext(task.Target, s.safety.DryRun, s.safety.Confirm)
	result, err := s.supervisor.StartDetached(sc, task.Target, extra)
	if err != nil {
		s.logger.Warn("scheduled task failed to start",
			zap.String("task", task.Name),
			zap.Error(err))
		s.record(domain.NewEvent(task.Target, domain.ActionTask, task.Name, domain.OutcomeError).WithError(err))
		return
	}

	if result.Planned {
		s.record(domain.NewEvent(task.Target, domain.ActionTask, task.Name, domain.OutcomePlanned))
		return
	}

	s.record(domain.NewEvent(task.Target, domain.ActionTask, task.Name, domain.OutcomeOK).
		WithExtra("pid", result.PID))
}

func (s *Scheduler) recordHeartbeat() {
	running := s.supervisor.Running()
	s.record(domain.NewEvent("rhea", domain.ActionHeartbeat, "", domain.OutcomeOK).
		WithExtra("tasks", s.taskCount()).
		WithExtra("children", len(running)))
}

func (s *Scheduler) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) record(e domain.EventEntry) {
	if err := s.events.Record(e); err != nil {
		s.logger.Warn("failed to record event", zap.Error(err))
	}
}
