package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/observability"
)

type invoiceRunner interface {
	Run(ctx context.Context, invoiceID, gatewayID string)
}

// Supervisor owns the poller goroutines, at most one per invoice id.
type Supervisor struct {
	runner invoiceRunner
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	tasks   map[string]*pollTask
	stopped bool
}

type pollTask struct {
	gatewayID string
	startedAt time.Time
}

// TaskInfo describes one running poller.
type TaskInfo struct {
	InvoiceID string    `json:"invoice_id"`
	GatewayID string    `json:"gateway_id"`
	StartedAt time.Time `json:"started_at"`
}

func NewSupervisor(runner invoiceRunner, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With("component", "supervisor")
	return &Supervisor{
		runner: runner,
		logger: logger,
		ctx:    logging.WithLogger(ctx, logger),
		cancel: cancel,
		tasks:  make(map[string]*pollTask),
	}
}

// Launch starts a poller for invoiceID. It returns false if one is already
// running or the supervisor has been shut down.
func (s *Supervisor) Launch(invoiceID, gatewayID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, running := s.tasks[invoiceID]; running {
		return false
	}
	s.tasks[invoiceID] = &pollTask{gatewayID: gatewayID, startedAt: time.Now()}
	s.wg.Add(1)

	go s.run(invoiceID, gatewayID)
	observability.CountPollerEvent(s.ctx, "launched")
	return true
}

func (s *Supervisor) run(invoiceID, gatewayID string) {
	defer s.wg.Done()
	defer s.remove(invoiceID)

	ctx := sentry.SetHubOnContext(s.ctx, sentry.CurrentHub().Clone())
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("poller panicked", "invoice_id", invoiceID, "panic", fmt.Sprint(r))
			observability.CountPollerEvent(ctx, "panicked")
			if hub := sentry.GetHubFromContext(ctx); hub != nil {
				hub.RecoverWithContext(ctx, r)
			}
		}
	}()

	s.runner.Run(ctx, invoiceID, gatewayID)
}

func (s *Supervisor) remove(invoiceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, invoiceID)
}

func (s *Supervisor) IsActive(invoiceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[invoiceID]
	return ok
}

// Active lists running pollers ordered by invoice id.
func (s *Supervisor) Active() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]TaskInfo, 0, len(s.tasks))
	for id, task := range s.tasks {
		active = append(active, TaskInfo{InvoiceID: id, GatewayID: task.gatewayID, StartedAt: task.startedAt})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].InvoiceID < active[j].InvoiceID })
	return active
}

// Shutdown cancels every poller and waits for them to return or for ctx to
// expire. Invoices keep their persisted status and are picked up again by
// recovery on the next start.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pollers did not stop: %w", ctx.Err())
	}
}
