// Package notify provides the in-process reminder scheduler. Each
// installation has at most one pending reminder.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pomodoro/timerd/internal/logging"
	"pomodoro/timerd/internal/timer"
)

var ErrClosed = errors.New("scheduler is closed")

// Delivery is a fired reminder.
type Delivery struct {
	InstallationID string
	Handle         string
	Notification   timer.Notification
	DeliveredAt    time.Time
}

// DeliverFunc receives fired reminders. It runs on the timer goroutine.
type DeliverFunc func(ctx context.Context, delivery Delivery)

type pending struct {
	handle string
	timer  *time.Timer
}

type Scheduler struct {
	mu      sync.Mutex
	pending map[string]pending
	deliver DeliverFunc
	logger  *slog.Logger
	closed  bool
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		pending: make(map[string]pending),
		logger:  logger,
	}
}

// OnDeliver sets the hook invoked when a reminder fires.
func (s *Scheduler) OnDeliver(fn DeliverFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = fn
}

// For returns the scheduling port for one installation.
func (s *Scheduler) For(installationID string) timer.Scheduler {
	return &installationScheduler{scheduler: s, installationID: installationID}
}

// Pending reports the handle of the installation's pending reminder.
func (s *Scheduler) Pending(installationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[installationID]
	return p.handle, ok
}

// Close stops every pending reminder and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.closed = true
}

func (s *Scheduler) schedule(installationID string, after time.Duration, payload timer.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if after < 0 {
		after = 0
	}

	s.stopLocked(installationID)

	handle := uuid.NewString()
	t := time.AfterFunc(after, func() {
		s.fire(installationID, handle, payload)
	})
	s.pending[installationID] = pending{handle: handle, timer: t}

	s.logger.Debug("reminder scheduled", "installation", installationID, "handle", handle, "after", after)
	return handle, nil
}

func (s *Scheduler) cancel(installationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(installationID)
}

func (s *Scheduler) stopLocked(installationID string) {
	if p, ok := s.pending[installationID]; ok {
		p.timer.Stop()
		delete(s.pending, installationID)
	}
}

func (s *Scheduler) fire(installationID, handle string, payload timer.Notification) {
	s.mu.Lock()
	p, ok := s.pending[installationID]
	if !ok || p.handle != handle {
		// Superseded or cancelled after the timer had already fired.
		s.mu.Unlock()
		return
	}
	delete(s.pending, installationID)
	deliver := s.deliver
	s.mu.Unlock()

	if deliver == nil {
		s.logger.Warn("reminder fired without a delivery hook", "installation", installationID, "handle", handle)
		return
	}
	deliver(context.Background(), Delivery{
		InstallationID: installationID,
		Handle:         handle,
		Notification:   payload,
		DeliveredAt:    time.Now().UTC(),
	})
}

type installationScheduler struct {
	scheduler      *Scheduler
	installationID string
}

func (s *installationScheduler) ScheduleOneShot(_ context.Context, after time.Duration, payload timer.Notification) (string, error) {
	return s.scheduler.schedule(s.installationID, after, payload)
}

func (s *installationScheduler) CancelAll(context.Context) error {
	s.scheduler.cancel(s.installationID)
	return nil
}
