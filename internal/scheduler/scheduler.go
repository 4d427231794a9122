// Package scheduler implements component C7: timezone-aware cron jobs and
// one-shot named timers, both firing into the event router (C6). Grounded
// on the teacher's internal/service/workflow/scheduler.go, which rebuilds a
// hardloop cron runner from a set of named cron specs whenever the job set
// changes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldline-go/hardloop"

	"github.com/flowbotic/runtime/internal/errs"
	"github.com/flowbotic/runtime/internal/event"
	"github.com/flowbotic/runtime/internal/spec"
)

// cronRunner is satisfied by hardloop's unexported cron job type returned
// from hardloop.NewCron.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// TickEventName is emitted on every cron firing in addition to the job's
// own per-job event, so handlers can also dispatch via data
// filters on a common event (§4.7 — "both approaches are used by the
// source and both are acceptable").
const TickEventName = "scheduler_tick"

// Scheduler owns cron jobs and one-shot timers. Both fire by emitting events
// on a Router: a job's actions are registered as the handler of its per-job
// event, and a timer emits the event it was created with.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]spec.SchedulerJob

	router     *event.Router
	errHandler *errs.Handler

	ctx    context.Context
	cancel context.CancelFunc
	cron   cronRunner

	timers map[string]*time.Timer
}

// New constructs a Scheduler. router receives scheduler_tick emits and any
// create_timer-registered events.
func New(router *event.Router, errHandler *errs.Handler) *Scheduler {
	return &Scheduler{
		jobs:       make(map[string]spec.SchedulerJob),
		router:     router,
		errHandler: errHandler,
		timers:     make(map[string]*time.Timer),
	}
}

// RegisterJob adds or replaces a cron job definition. Call Reload (or
// Start, the first time) to apply it.
func (s *Scheduler) RegisterJob(job spec.SchedulerJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
}

// Start loads all enabled jobs and starts the cron runner. Call once
// during runtime initialization.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.reload()
}

// Reload stops the current cron runner and rebuilds it from the current
// job set — hardloop's cron runner doesn't support adding/removing jobs
// dynamically, so a full rebuild is the only option (matches the
// teacher's own documented constraint).
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// Stop stops the cron runner and cancels all pending one-shot timers.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

func (s *Scheduler) reload() error {
	s.stopLocked()

	if s.ctx == nil {
		return nil
	}

	crons := make([]hardloop.Cron, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		cronSpec := job.Cron
		if job.Timezone != "" {
			cronSpec = "CRON_TZ=" + job.Timezone + " " + cronSpec
		}

		// Register the job's actions once, under a stable per-job event
		// name, so additional handlers can attach to it and so the cron
		// func itself only needs to Emit rather than re-register on every
		// tick.
		if len(job.Actions) > 0 {
			s.router.Register(spec.EventSpec{Event: jobEventName(job.Name), Actions: job.Actions})
		}

		crons = append(crons, hardloop.Cron{
			Name:  fmt.Sprintf("job-%s", job.Name),
			Specs: []string{cronSpec},
			Func:  s.makeCronFunc(job),
		})
	}

	if len(crons) == 0 {
		return nil
	}

	cronJob, err := hardloop.NewCron(crons...)
	if err != nil {
		return fmt.Errorf("scheduler: create cron runner: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancel = cancel
	s.cron = cronJob

	if err := cronJob.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("scheduler: start cron runner: %w", err)
	}
	return nil
}

// makeCronFunc emits scheduler_tick on every tick, so handlers filtering on
// job name can react, and, for a job with actions, the job's per-job event,
// whose handler (registered in reload) runs job.Actions. Firing
// is best-effort and overruns are allowed to run concurrently — hardloop
// invokes Func on its own schedule regardless of whether a prior
// invocation is still running, which is the inherited behavior the
// contract calls for (§4.7, §9).
func (s *Scheduler) makeCronFunc(job spec.SchedulerJob) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		evalCtx := map[string]any{
			"job": map[string]any{
				"name": job.Name,
				"cron": job.Cron,
			},
		}

		s.router.Emit(ctx, TickEventName, evalCtx)

		if len(job.Actions) > 0 {
			s.router.Emit(ctx, jobEventName(job.Name), evalCtx)
		}
		return nil
	}
}

func jobEventName(name string) string {
	return "scheduler_job:" + name
}

// CreateTimer registers a one-shot timer under id; on fire it emits event
// with data merged into the evaluation context (§4.7 create_timer).
func (s *Scheduler) CreateTimer(id string, d time.Duration, eventName string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[id]; ok {
		existing.Stop()
	}

	s.timers[id] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		s.router.Emit(context.Background(), eventName, data)
	})
}

// CancelTimer removes a pending timer, if any. Returns false if id wasn't
// pending.
func (s *Scheduler) CancelTimer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	return true
}
