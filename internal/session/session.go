// Package session owns the lifecycle of the persistent connection to the
// messaging server: establishing it, authenticating, reconnecting after
// transport drops, and tearing it down. All other components talk to the
// server only through a Session's Emit and On surface, so a reconnect
// replaces the transport handle without disturbing any subscriber.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/soundspace/realtime/internal/transport"
	"github.com/soundspace/realtime/pkg/wire"
)

// ErrNotConnected is returned when an operation needs a live session and
// there is none. Recoverable by reconnecting.
var ErrNotConnected = errors.New("no live session")

// State is the connectivity state of the session.
type State string

const (
	// StateIdle means the session has never been connected, or was
	// explicitly disconnected.
	StateIdle State = "idle"
	// StateConnecting means a connection attempt is in progress.
	StateConnecting State = "connecting"
	// StateConnected means the session has a live transport.
	StateConnected State = "connected"
	// StateDisconnected means the transport dropped, or the retry budget
	// was exhausted. Connect may be called again to retry manually.
	StateDisconnected State = "disconnected"
)

// Config holds the session tunables.
type Config struct {
	// HandshakeTimeout bounds a single connection attempt.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single outbound frame.
	WriteTimeout time.Duration
	// MaxAttempts caps consecutive failed connection attempts before the
	// session settles into a persistent offline state.
	MaxAttempts int
	// RetryBaseDelay is the delay before the first retry; each further
	// retry adds another base delay up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	// RetryMaxDelay is the ceiling for the retry delay.
	RetryMaxDelay time.Duration
}

func (c *Config) defaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 20 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
}

// Session is the live authenticated connection to the messaging server.
// One session exists per authenticated user; construct with New, dispose
// with Disconnect.
type Session struct {
	cfg    Config
	dialer transport.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	state   State
	conn    transport.Conn
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	dispatcher *dispatcher
}

// New creates a Session. It does not connect.
func New(cfg Config, dialer transport.Dialer, logger zerolog.Logger) *Session {
	cfg.defaults()
	return &Session{
		cfg:        cfg,
		dialer:     dialer,
		log:        logger.With().Str("component", "session").Logger(),
		state:      StateIdle,
		dispatcher: newDispatcher(),
	}
}

// State returns the current connectivity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the session has a live transport.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Connect establishes the session with the given bearer credential. It
// never returns an error: transport failures are retried automatically
// with increasing delay, and once the retry budget is exhausted the
// session surfaces as persistently disconnected. Calling Connect while
// the session is still connecting, connected, or retrying is a no-op;
// calling it after the budget is exhausted starts a fresh budget.
func (s *Session) Connect(ctx context.Context, credential string) {
	s.mu.Lock()
	// A live supervisor owns the session, whatever state it is passing
	// through; spawning a second one would leave two goroutines fighting
	// over the conn.
	if s.running {
		s.mu.Unlock()
		return
	}
	if s.cancel != nil {
		// Release the context of a supervisor that exhausted its budget.
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateConnecting
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.supervise(runCtx, credential)
	}()
}

// Disconnect tears the session down deterministically. It is idempotent:
// disconnecting an idle session does nothing.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	conn := s.conn
	wasConnected := s.state == StateConnected
	s.cancel = nil
	s.conn = nil
	s.state = StateIdle
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()

	if wasConnected {
		s.dispatcher.emitConnChange(false)
	}
	s.log.Info().Msg("session closed")
}

// On registers a handler for a server event and returns its unsubscribe
// function. Handlers survive reconnects; they are bound to the session,
// not to a transport.
func (s *Session) On(event string, fn func(data json.RawMessage)) func() {
	return s.dispatcher.on(event, fn)
}

// OnConnectionChange registers a handler for connected/disconnected
// transitions and returns its unsubscribe function.
func (s *Session) OnConnectionChange(fn func(connected bool)) func() {
	return s.dispatcher.onConnChange(fn)
}

// Emit sends one event to the server. Returns ErrNotConnected when there
// is no live transport.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

// supervise dials, pumps events, and redials after drops until the retry
// budget runs out or the session is disconnected.
func (s *Session) supervise(ctx context.Context, credential string) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		if !s.transition(StateConnecting) {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		conn, err := s.dialer.Dial(dialCtx, credential)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			s.transition(StateDisconnected)
			s.log.Warn().Err(err).Int("attempt", attempt).Msg("connection attempt failed")
			if attempt >= s.cfg.MaxAttempts {
				s.log.Warn().Msg("retry budget exhausted, staying offline")
				return
			}
			if !s.sleep(ctx, s.retryDelay(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		s.mu.Lock()
		if s.cancel == nil {
			// Disconnect won the race during the dial.
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		s.state = StateConnected
		s.mu.Unlock()
		s.log.Info().Msg("session connected")
		s.dispatcher.emitConnChange(true)

		readErr := s.readLoop(ctx, conn)
		_ = conn.Close()

		if ctx.Err() != nil {
			// Explicit teardown; Disconnect owns the state transition.
			return
		}

		s.mu.Lock()
		s.conn = nil
		if s.cancel != nil {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		s.log.Warn().Err(readErr).Msg("session dropped")
		s.dispatcher.emitConnChange(false)

		attempt++
		if attempt >= s.cfg.MaxAttempts {
			s.log.Warn().Msg("retry budget exhausted, staying offline")
			return
		}
		if !s.sleep(ctx, s.retryDelay(attempt)) {
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env wire.Envelope
		if err := env.Decode(data); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if env.Event == wire.EventServerShutdown {
			var p wire.ShutdownPayload
			if env.Payload(&p) == nil {
				s.log.Warn().Str("notice", p.Message).Msg("server shutdown advisory")
			}
		}

		// Synchronous dispatch: consumers rely on in-order delivery of
		// events from a single connection.
		s.dispatcher.dispatch(env)
	}
}

// transition moves to state unless Disconnect already tore the session
// down; the supervisor must not resurrect a closed session's state.
func (s *Session) transition(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.state = state
	return true
}

func (s *Session) retryDelay(attempt int) time.Duration {
	delay := time.Duration(attempt) * s.cfg.RetryBaseDelay
	if delay > s.cfg.RetryMaxDelay {
		delay = s.cfg.RetryMaxDelay
	}
	return delay
}

// sleep waits for the delay or the context, whichever ends first. Reports
// whether the delay ran to completion.
func (s *Session) sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
