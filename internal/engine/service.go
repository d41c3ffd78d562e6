package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Service runs the engine on a fixed interval. Cycles never overlap: the loop
// is serial, so a cycle that outlasts the interval simply delays the next one.
type Service struct {
	engine   *Engine
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	lastMu    sync.RWMutex
	lastCycle *CycleResult
}

// NewService wraps an engine in a cycle scheduler.
func NewService(engine *Engine, interval time.Duration, logger *logrus.Logger) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{engine: engine, interval: interval, logger: logger}
}

// Start launches the cycle loop. The first cycle runs immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("engine service already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(runCtx)

	s.logger.WithField("interval", s.interval.String()).Info("engine service started")
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("engine service stopped")
}

// IsRunning reports whether the cycle loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastCycle returns the most recent cycle result, or nil before the first
// cycle completes.
func (s *Service) LastCycle() *CycleResult {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastCycle
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result := s.engine.RunCycle(ctx)

	s.lastMu.Lock()
	s.lastCycle = &result
	s.lastMu.Unlock()
}
