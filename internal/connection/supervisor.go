package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nmoagit/x121-sub001/internal/events"
	"github.com/nmoagit/x121-sub001/internal/store"
)

// bookkeepingTimeout bounds store writes made after the supervisor's context
// was cancelled.
const bookkeepingTimeout = 2 * time.Second

// supervisor keeps one instance connected: connect, process frames until the
// connection drops, back off, reconnect. It exits only when its context is
// cancelled.
type supervisor struct {
	remote  *Remote
	store   store.Store
	bus     *events.Bus
	backoff ReconnectConfig
	logger  *slog.Logger
	proc    *processor

	state    atomic.Int32
	attempts atomic.Int64
}

func newSupervisor(remote *Remote, st store.Store, bus *events.Bus, backoff ReconnectConfig, logger *slog.Logger) *supervisor {
	id := remote.Instance().ID
	return &supervisor{
		remote:  remote,
		store:   st,
		bus:     bus,
		backoff: backoff,
		logger:  logger,
		proc:    newProcessor(id, st, bus, logger),
	}
}

// State returns the current lifecycle state.
func (s *supervisor) State() State { return State(s.state.Load()) }

// Attempts returns failed connection attempts since the last success.
func (s *supervisor) Attempts() int { return int(s.attempts.Load()) }

func (s *supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("connection state changed", "from", prev, "to", st)
	}
}

func (s *supervisor) instanceID() int64 { return s.remote.Instance().ID }

func (s *supervisor) run(ctx context.Context) {
	defer s.setState(StateCancelled)

	s.setState(StateConnecting)
	c, err := s.remote.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("connection failed, entering reconnect loop", "error", err)
		s.failedAttempt(ctx)
		if c = s.reconnect(ctx); c == nil {
			return
		}
	}

	for {
		s.serve(ctx, c)
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("connection lost, entering reconnect loop")
		if c = s.reconnect(ctx); c == nil {
			return
		}
	}
}

// serve runs one established connection to completion.
func (s *supervisor) serve(ctx context.Context, c Client) {
	defer c.Close()

	id := s.instanceID()
	s.attempts.Store(0)
	s.setState(StateConnected)

	if err := s.store.RecordConnection(ctx, id); err != nil {
		s.logger.Warn("failed to record connection", "error", err)
	}
	s.bus.Publish(events.NewInstanceConnectedEvent(id))
	s.logger.Info("connected", "client_id", s.remote.ClientID())

	err := s.proc.run(ctx, c)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	default:
		s.logger.Warn("connection ended", "error", err)
	}

	s.setState(StateDisconnected)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := s.store.RecordDisconnection(bctx, id); err != nil {
		s.logger.Warn("failed to record disconnection", "error", err)
	}
	s.bus.Publish(events.NewInstanceDisconnectedEvent(id))
}

// reconnect retries with backoff until a connection succeeds or ctx is
// cancelled, in which case it returns nil.
func (s *supervisor) reconnect(ctx context.Context) Client {
	for attempt := 0; ; attempt++ {
		delay := s.backoff.Delay(attempt)
		s.setState(StateDisconnected)
		s.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("reconnect cancelled")
			return nil
		case <-timer.C:
		}

		s.setState(StateConnecting)
		c, err := s.remote.Dial(ctx)
		if err == nil {
			s.logger.Info("reconnected", "attempt", attempt+1)
			return c
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
		s.failedAttempt(ctx)
	}
}

func (s *supervisor) failedAttempt(ctx context.Context) {
	s.attempts.Add(1)
	if err := s.store.IncrementReconnectAttempts(ctx, s.instanceID()); err != nil {
		s.logger.Debug("failed to record reconnect attempt", "error", err)
	}
}
