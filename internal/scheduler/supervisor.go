package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"conversation_backend/platform/logger"
)

// Supervisor runs periodic tasks until stopped. Each tick runs on a context
// detached from the supervisor, so Stop waits for it to finish instead of
// cutting it short.
type Supervisor struct {
	log   *logger.Logger
	tasks map[string]*supervisedTask
	order []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

type supervisedTask struct {
	task Task
	mu   sync.Mutex
}

func NewSupervisor(log *logger.Logger, tasks ...Task) *Supervisor {
	s := &Supervisor{
		log:   log,
		tasks: make(map[string]*supervisedTask, len(tasks)),
	}
	for _, t := range tasks {
		if _, exists := s.tasks[t.Name()]; exists {
			continue
		}
		s.tasks[t.Name()] = &supervisedTask{task: t}
		s.order = append(s.order, t.Name())
	}
	return s
}

// Start launches one loop per task. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, name := range s.order {
		st := s.tasks[name]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(loopCtx, st)
		}()
	}
	s.log.Info("scheduler supervisor started", "tasks", s.order)
}

// Stop cancels every loop and waits for in-flight ticks.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler supervisor stopped")
}

// RunOnce runs the named task immediately.
func (s *Supervisor) RunOnce(ctx context.Context, name string) (SweepResult, error) {
	st, ok := s.tasks[name]
	if !ok {
		return SweepResult{}, fmt.Errorf("unknown task %q", name)
	}
	return s.tick(ctx, st)
}

// TaskNames lists the registered tasks in registration order.
func (s *Supervisor) TaskNames() []string {
	return append([]string(nil), s.order...)
}

func (s *Supervisor) loop(ctx context.Context, st *supervisedTask) {
	ticker := time.NewTicker(st.task.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.tick(context.WithoutCancel(ctx), st); err != nil {
				s.log.Warn("scheduled task failed", "task", st.task.Name(), "error", err)
			}
		}
	}
}

func (s *Supervisor) tick(ctx context.Context, st *supervisedTask) (SweepResult, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	start := time.Now()
	result, err := st.task.Run(ctx)
	if err != nil {
		return result, err
	}
	if result.Scanned > 0 {
		s.log.Info("sweep completed",
			"task", st.task.Name(),
			"scanned", result.Scanned,
			"applied", result.Applied,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"durationMs", time.Since(start).Milliseconds(),
		)
	}
	return result, nil
}
