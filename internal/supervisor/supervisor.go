// Package supervisor starts, stops, and reports on wallet workers.
//
// Each worker runs in its own goroutine with its own cancellable context.
// The supervisor is the only layer above the workers; the CLI and the
// status server talk exclusively to it.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"injective-mm/pkg/types"
)

var (
	ErrUnknownWorker  = errors.New("unknown worker")
	ErrAlreadyRunning = errors.New("worker already running")
	ErrNotRunning     = errors.New("worker not running")
)

// gracefulStopTimeout bounds how long a graceful stop waits for the worker
// to finish its in-flight cycle.
const gracefulStopTimeout = 30 * time.Second

// Runner is the worker surface the supervisor drives.
type Runner interface {
	Run(ctx context.Context) error
	Status() types.WorkerStatus
}

type handle struct {
	runner  Runner
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	lastErr error
}

// Supervisor owns the worker registry.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*handle
	logger  *slog.Logger
}

// New creates an empty supervisor.
func New(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		workers: make(map[string]*handle),
		logger:  logger.With("component", "supervisor"),
	}
}

// Register adds a worker under a wallet id without starting it.
func (s *Supervisor) Register(walletID string, r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[walletID] = &handle{runner: r}
}

// StartWorker launches a registered worker.
func (s *Supervisor) StartWorker(ctx context.Context, walletID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.workers[walletID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, walletID)
	}
	if h.cancel != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, walletID)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	s.logger.Info("starting worker", "wallet", walletID)
	go func() {
		err := h.runner.Run(workerCtx)
		h.mu.Lock()
		h.lastErr = err
		h.mu.Unlock()
		if err != nil && workerCtx.Err() == nil {
			s.logger.Error("worker exited with error", "wallet", walletID, "error", err)
		}
		close(h.done)
	}()

	return nil
}

// StopWorker cancels a worker. A graceful stop waits (bounded) for the
// worker to finish its current cycle; a non-graceful stop returns as soon
// as cancellation is signalled.
func (s *Supervisor) StopWorker(walletID string, graceful bool) error {
	s.mu.Lock()
	h, ok := s.workers[walletID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorker, walletID)
	}
	if h.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, walletID)
	}
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	s.mu.Unlock()

	s.logger.Info("stopping worker", "wallet", walletID, "graceful", graceful)
	cancel()

	if graceful {
		select {
		case <-done:
		case <-time.After(gracefulStopTimeout):
			s.logger.Warn("worker did not stop in time", "wallet", walletID)
		}
	}
	return nil
}

// WorkerStatus returns one worker's status.
func (s *Supervisor) WorkerStatus(walletID string) (types.WorkerStatus, error) {
	s.mu.Lock()
	h, ok := s.workers[walletID]
	s.mu.Unlock()
	if !ok {
		return types.WorkerStatus{}, fmt.Errorf("%w: %s", ErrUnknownWorker, walletID)
	}
	return h.runner.Status(), nil
}

// WorkerErr returns the error a worker's Run returned, if it has exited.
func (s *Supervisor) WorkerErr(walletID string) error {
	s.mu.Lock()
	h, ok := s.workers[walletID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorker, walletID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Statuses returns every registered worker's status, sorted by wallet id.
func (s *Supervisor) Statuses() []types.WorkerStatus {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.workers))
	for _, h := range s.workers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]types.WorkerStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.runner.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out
}

// StopAll gracefully stops every running worker.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id, h := range s.workers {
		if h.cancel != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.StopWorker(id, true); err != nil {
				s.logger.Warn("stop failed", "wallet", id, "error", err)
			}
		}(id)
	}
	wg.Wait()
}
