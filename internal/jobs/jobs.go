package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"
)

// Sweeper receives pending donations.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Cleaner drops expired captcha challenges.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic maintenance jobs. A job that is still running
// when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

func New(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		timeout: timeout,
		running: make(map[string]bool),
	}
}

// AddSweep schedules s on schedule. When immediate is set the first sweep
// runs as soon as the scheduler starts.
func (s *Scheduler) AddSweep(schedule string, sw Sweeper, immediate bool) error {
	job := func(ctx context.Context) error {
		received, err := sw.Sweep(ctx)
		if received > 0 {
			s.logger.Info("donation sweep", slog.Int("received", received))
		}
		return err
	}
	return s.add("sweep", schedule, job, immediate)
}

func (s *Scheduler) AddCleanup(schedule string, c Cleaner) error {
	job := func(ctx context.Context) error {
		removed, err := c.Cleanup(ctx)
		if removed > 0 {
			s.logger.Info("expired challenges removed", slog.Int64("count", removed))
		}
		return err
	}
	return s.add("cleanup", schedule, job, false)
}

func (s *Scheduler) add(name, schedule string, job func(context.Context) error, immediate bool) error {
	if schedule == "" {
		return nil
	}
	run := func() { s.run(name, job) }
	if err := s.cron.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	if immediate {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			run()
		}()
	}
	return nil
}

// run executes one job invocation. Errors are logged and never stop the
// schedule.
func (s *Scheduler) run(name string, job func(context.Context) error) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn("job still running, skipping tick", slog.String("job", name))
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
		return
	}
	s.logger.Debug("job completed", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an immediate first run to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.wg.Wait()
}
