package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/luthierworks/luthier/internal/errors"
)

// Scheduler runs the importer on a fixed interval.
type Scheduler struct {
	importer *Importer
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler for imp. interval must be positive.
func NewScheduler(imp *Importer, interval time.Duration) *Scheduler {
	return &Scheduler{importer: imp, interval: interval}
}

// Start begins the background loop. The first sync happens after one interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interval <= 0 {
		return &errors.ErrServerStart{Addr: "sync-scheduler", Err: fmt.Errorf("interval must be positive")}
	}
	if s.running {
		return &errors.ErrServerStart{Addr: "sync-scheduler", Err: fmt.Errorf("scheduler already running")}
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)
	return nil
}

// Stop halts the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh := s.stopCh
	s.mu.Unlock()

	close(stopCh)
	s.wg.Wait()
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.importer.Run(ctx, RunOptions{})
	if err == nil {
		return
	}
	// Not being connected is the normal state until an operator signs in.
	var authErr *errors.AuthenticationError
	if stderrors.As(err, &authErr) && !s.importer.Status().Connected {
		s.importer.logger.Debug("scheduled sync skipped, not connected")
	}
}
