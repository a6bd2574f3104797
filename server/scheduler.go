package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/piyushagarwal-55/flowforge/engine"
)

const defaultSchedulePollInterval = 5 * time.Second

// Schedule run statuses.
const (
	ScheduleRunStatusRunning        = "running"
	ScheduleRunStatusCompleted      = "completed"
	ScheduleRunStatusFailed         = "failed"
	ScheduleRunStatusSkippedOverlap = "skipped_overlap"
)

// Schedule runs a saved workflow with a fixed input on a cron expression.
type Schedule struct {
	ID         string         `json:"id" yaml:"id"`
	WorkflowID string         `json:"workflowId" yaml:"workflow"`
	Cron       string         `json:"cron" yaml:"cron"`
	Input      map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	Disabled   bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// ScheduleStatus is a schedule plus the outcome of its latest run.
type ScheduleStatus struct {
	Schedule
	NextRunAt       time.Time  `json:"nextRunAt"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
	LastStatus      string     `json:"lastStatus,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	LastExecutionID string     `json:"lastExecutionId,omitempty"`
}

// WorkflowRunner runs saved workflows. *Server implements it.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, workflowID string, input map[string]any) (*engine.Result, error)
}

var _ WorkflowRunner = (*Server)(nil)

// SchedulerConfig configures the background workflow schedule runner.
type SchedulerConfig struct {
	Runner       WorkflowRunner
	Schedules    []Schedule
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically executes due workflow schedules. A schedule whose
// previous run is still active is skipped rather than run twice.
type Scheduler struct {
	runner       WorkflowRunner
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger

	mu       sync.Mutex
	entries  []*scheduleEntry
	active   map[string]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight sync.WaitGroup
}

type scheduleEntry struct {
	cron   cron.Schedule
	status ScheduleStatus
}

// NewScheduler parses every schedule up front; an invalid cron expression or
// a duplicate id is an error.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler runner is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Scheduler{
		runner:       cfg.Runner,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		active:       map[string]struct{}{},
	}

	now := cfg.Now().UTC()
	seen := make(map[string]bool, len(cfg.Schedules))
	for i, sch := range cfg.Schedules {
		if strings.TrimSpace(sch.WorkflowID) == "" {
			return nil, fmt.Errorf("schedule %d: workflow is required", i)
		}
		if sch.ID == "" {
			sch.ID = fmt.Sprintf("%s-%d", sch.WorkflowID, i)
		}
		if seen[sch.ID] {
			return nil, fmt.Errorf("schedule %q: duplicate id", sch.ID)
		}
		seen[sch.ID] = true

		parsed, err := ParseCron(sch.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sch.ID, err)
		}
		s.entries = append(s.entries, &scheduleEntry{
			cron: parsed,
			status: ScheduleStatus{
				Schedule:  sch,
				NextRunAt: nextCronRunUTC(parsed, now),
			},
		})
	}
	return s, nil
}

// Start starts background polling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info("scheduler started", "schedules", len(s.entries), "poll_interval", s.pollInterval)

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop stops polling, cancels in-flight runs and waits for them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	finished := make(chan struct{})
	go func() {
		<-done
		s.inFlight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce starts every due schedule and advances its next run time.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		st := &entry.status
		if st.Disabled || st.NextRunAt.After(now) {
			continue
		}
		st.NextRunAt = nextCronRunUTC(entry.cron, now)

		if _, busy := s.active[st.ID]; busy {
			st.LastStatus = ScheduleRunStatusSkippedOverlap
			st.LastError = "skipped because prior scheduled run is still active"
			s.logger.Warn("schedule skipped, previous run still active", "schedule_id", st.ID, "workflow_id", st.WorkflowID)
			continue
		}

		st.LastStatus = ScheduleRunStatusRunning
		st.LastError = ""
		s.active[st.ID] = struct{}{}
		s.inFlight.Add(1)
		go s.run(ctx, st.Schedule)
	}
}

func (s *Scheduler) run(ctx context.Context, sch Schedule) {
	defer s.inFlight.Done()

	result, err := s.runner.RunWorkflow(ctx, sch.WorkflowID, cloneMapAny(sch.Input))
	finish := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sch.ID)

	idx := slices.IndexFunc(s.entries, func(e *scheduleEntry) bool { return e.status.ID == sch.ID })
	if idx < 0 {
		return
	}
	st := &s.entries[idx].status
	st.LastRunAt = &finish
	if result != nil {
		st.LastExecutionID = result.ExecutionID
	}
	if err != nil {
		st.LastStatus = ScheduleRunStatusFailed
		st.LastError = err.Error()
		s.logger.Error("scheduled run failed", "schedule_id", sch.ID, "workflow_id", sch.WorkflowID, "error", err)
		return
	}
	st.LastStatus = ScheduleRunStatusCompleted
	st.LastError = ""
}

// Statuses returns a snapshot of every schedule in declaration order.
func (s *Scheduler) Statuses() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		st := entry.status
		if st.LastRunAt != nil {
			at := *st.LastRunAt
			st.LastRunAt = &at
		}
		out = append(out, st)
	}
	return out
}

func (s *Server) handleListSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.scheduler == nil {
		writeJSON(w, http.StatusOK, []ScheduleStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.scheduler.Statuses())
}

func cloneMapAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
