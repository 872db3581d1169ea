package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yinjg1997/customer-agent/channel/pdd"
	"github.com/yinjg1997/customer-agent/internal/metrics"
	"github.com/yinjg1997/customer-agent/pipeline"
	"github.com/yinjg1997/customer-agent/store"
)

// SessionState is the lifecycle phase of one account session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateRunning
	StateStopping
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Session is one account's running stack: transport, queue, consumer
// and handler chain. The supervisor owns the session; the session owns
// the consumer; the consumer owns the dispatchers.
type Session struct {
	key     string
	account *store.Account
	logger  *slog.Logger

	transport Transport
	queue     *pipeline.Queue
	consumer  *pipeline.Consumer

	mu    sync.Mutex
	state SessionState

	stopOnce sync.Once
	done     chan struct{}
}

func newSession(key string, account *store.Account, logger *slog.Logger) *Session {
	return &Session{
		key:     key,
		account: account,
		logger:  logger,
		state:   StateConnecting,
		done:    make(chan struct{}),
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// DispatcherCount reports live per-user workers, for the admin surface.
func (s *Session) DispatcherCount() int {
	if s.consumer == nil {
		return 0
	}
	return s.consumer.DispatcherCount()
}

// QueueLen reports the backlog of undelivered events.
func (s *Session) QueueLen() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}

// Done closes when the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// pump moves transport events into the queue until the transport
// closes, then tears the session down.
func (s *Session) pump() {
	depth := metrics.QueueDepth.WithLabelValues(s.account.ShopID, s.account.UserID)
	for ev := range s.transport.Events() {
		if _, err := s.queue.Put(context.Background(), ev); err != nil {
			// Queue closed under us; the session is stopping.
			return
		}
		depth.Set(float64(s.queue.Len()))
	}

	reason, err := s.transport.Err()
	if reason == pdd.CloseError {
		s.logger.Error("transport closed", "session", s.key, "reason", reason.String(), "error", err)
	} else {
		s.logger.Info("transport closed", "session", s.key, "reason", reason.String())
	}
	s.stop()
}

// stop tears the stack down in order: transport, queue, consumer.
// Idempotent; blocks until the consumer has exited.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		s.setState(StateStopping)
		if s.transport != nil {
			s.transport.Close()
		}
		if s.queue != nil {
			s.queue.Close()
		}
		if s.consumer != nil {
			s.consumer.Stop()
		}
		s.setState(StateStopped)
		metrics.ActiveSessions.Dec()
		metrics.QueueDepth.DeleteLabelValues(s.account.ShopID, s.account.UserID)
		close(s.done)
		s.logger.Info("session stopped", "session", s.key)
	})
}
