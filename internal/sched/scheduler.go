// Package sched runs named interval jobs on a cron runner. It hosts the
// sweeper and periodic diagnostics; jobs can be added, removed, paused and
// resumed at runtime. Missed fires skip to the next window.
package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/helmwind/browserpilot/internal/log"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context)

type job struct {
	id       string
	entry    cron.EntryID
	interval time.Duration
	fn       JobFunc
	paused   bool
}

// Scheduler wraps a cron runner with a named-job registry.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	logger  zerolog.Logger
}

// New builds a stopped scheduler. Overlapping runs of the same job are
// skipped rather than queued.
func New() *Scheduler {
	logger := log.WithComponent("sched")
	s := &Scheduler{
		jobs:   map[string]*job{},
		logger: logger,
	}
	s.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	return s
}

// Start begins firing jobs. ctx bounds every job invocation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Shutdown stops firing and waits for running jobs, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// Add registers a job firing every interval. The id must be unique.
func (s *Scheduler) Add(id string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("job %q already registered", id)
	}

	j := &job{id: id, interval: interval, fn: fn}
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("job %q: %w", id, err)
	}
	j.entry = entry
	s.jobs[id] = j
	s.logger.Debug().Str("job", id).Dur("interval", interval).Msg("job added")
	return nil
}

func (s *Scheduler) run(j *job) {
	s.mu.Lock()
	paused := j.paused
	ctx := s.ctx
	s.mu.Unlock()
	if paused || ctx == nil || ctx.Err() != nil {
		return
	}
	j.fn(ctx)
}

// Remove unregisters a job; a missing id is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, id)
	s.logger.Debug().Str("job", id).Msg("job removed")
}

// Pause keeps the job registered but suppresses its firings.
func (s *Scheduler) Pause(id string) error {
	return s.setPaused(id, true)
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(id string) error {
	return s.setPaused(id, false)
}

func (s *Scheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %q not registered", id)
	}
	j.paused = paused
	return nil
}

// Jobs lists registered job ids.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	return out
}

// cronLogger adapts zerolog to the cron logging interface.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
