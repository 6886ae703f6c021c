package ctlog

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/burakozcn01/certstream-server-go/pkg/certmodel"
)

// Supervisor owns the set of running per-log workers, reacting to
// registry diffs by spawning workers for additions and cancelling
// workers for removals. It never holds a reference back from a
// worker to itself — stopping a worker is a pure cancel signal
// (spec.md §9, "no cyclic ownership").
type Supervisor struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
	logger  *logrus.Entry

	newWorker func(src certmodel.CtLog) (*Worker, error)
}

func NewSupervisor(logger *logrus.Entry, newWorker func(src certmodel.CtLog) (*Worker, error)) *Supervisor {
	return &Supervisor{
		cancels:   make(map[string]context.CancelFunc),
		logger:    logger,
		newWorker: newWorker,
	}
}

// Apply starts workers for diff.Added and stops workers for
// diff.Removed. Stopping a worker signals cancellation and returns
// immediately; the worker finishes its in-flight batch and flushes
// its cursor on its own goroutine.
func (s *Supervisor) Apply(ctx context.Context, diff Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range diff.Added {
		workerCtx, cancel := context.WithCancel(ctx)
		s.cancels[src.ID] = cancel
		s.wg.Add(1)
		go s.runSupervised(workerCtx, src)
	}

	for _, src := range diff.Removed {
		if cancel, ok := s.cancels[src.ID]; ok {
			cancel()
			delete(s.cancels, src.ID)
		}
	}
}

// runSupervised recovers panics from a single worker's Run and
// restarts it after 5s, per spec.md §7's panic disposition. It never
// restarts after the context is cancelled.
func (s *Supervisor) runSupervised(ctx context.Context, src certmodel.CtLog) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithField("log_id", src.ID).Errorf("log worker panicked: %v", r)
				}
			}()

			w, err := s.newWorker(src)
			if err != nil {
				s.logger.WithField("log_id", src.ID).WithError(err).Error("failed to construct log worker")
				return
			}
			if err := w.Run(ctx); err != nil {
				s.logger.WithField("log_id", src.ID).WithError(err).Error("log worker exited with error")
			}
		}()

		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Shutdown cancels every running worker and waits for them to exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
