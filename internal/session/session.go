package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/countersync/internal/wire"
)

var (
	// ErrSessionFailed wraps the transport error that ended the stream.
	ErrSessionFailed = errors.New("session failed")

	// ErrSessionClosed is returned after Close.
	ErrSessionClosed = errors.New("session closed")

	// ErrSubscribed is returned by a second call to Subscribe.
	ErrSubscribed = errors.New("session already has a subscriber")
)

// Metadata identifies the caller on every stream.
type Metadata struct {
	UserID   string
	DeviceID string
}

// Stream is one open bidirectional channel.
type Stream interface {
	Send(msg *wire.ClientMessage) error
	Recv() (*wire.ServerMessage, error)
	CloseSend() error
}

// Opener establishes streams. The stream must end when ctx is cancelled.
type Opener interface {
	Open(ctx context.Context, md Metadata) (Stream, error)
}

// Subscriber receives everything the stream delivers.
type Subscriber struct {
	// OnMessage is called for each inbound message, in arrival order.
	OnMessage func(*wire.ServerMessage)

	// OnTerminal is called once when the stream breaks. The error wraps
	// ErrSessionFailed.
	OnTerminal func(error)
}

// State is the lifecycle state of a Session.
type State int

const (
	// StateClosed means no stream is open.
	StateClosed State = iota
	StateOpen
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session multiplexes requests onto one lazily opened stream.
//
// Thread-safety: all methods are safe for concurrent use. Sends are
// serialized onto the stream.
type Session struct {
	opener Opener
	md     Metadata
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	shutdown bool
	err      error
	stream   Stream
	cancel   context.CancelFunc
	sub      *Subscriber

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// New creates a Session. No stream is opened until the first operation.
func New(opener Opener, md Metadata, opts ...Option) *Session {
	s := &Session{
		opener: opener,
		md:     md,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers the single subscriber. Subscribe before the first
// operation; messages that arrive with no subscriber are dropped.
func (s *Session) Subscribe(sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return ErrSubscribed
	}
	s.sub = &sub
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reset asks the server for a full snapshot.
func (s *Session) Reset(ctx context.Context) error {
	return s.send(ctx, wire.NewResetMessage())
}

// Resume asks the server to redeliver everything after lastBatchID.
func (s *Session) Resume(ctx context.Context, lastBatchID string) error {
	return s.send(ctx, wire.NewResumeMessage(lastBatchID))
}

// SendAction sends one action request. It does not wait for the response.
func (s *Session) SendAction(ctx context.Context, req wire.ActionRequest) error {
	return s.send(ctx, wire.NewActionMessage(req))
}

// Acknowledge confirms a processed batch.
func (s *Session) Acknowledge(ctx context.Context, batchID string) error {
	return s.send(ctx, wire.NewAcknowledgementMessage(batchID))
}

func (s *Session) send(ctx context.Context, msg *wire.ClientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := s.ensureOpen()
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := st.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	s.logger.Debug("message sent", "kind", msg.Kind())
	return nil
}

// ensureOpen returns the open stream, opening it on first use.
func (s *Session) ensureOpen() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil, ErrSessionClosed
	}
	switch s.state {
	case StateOpen:
		return s.stream, nil
	case StateFailed:
		return nil, s.err
	}

	ctx, cancel := context.WithCancel(context.Background())
	st, err := s.opener.Open(ctx, s.md)
	if err != nil {
		cancel()
		s.state = StateFailed
		s.err = fmt.Errorf("%w: open stream: %w", ErrSessionFailed, err)
		s.logger.Error("stream open failed", "error", err)
		return nil, s.err
	}

	s.stream = st
	s.cancel = cancel
	s.state = StateOpen
	s.logger.Info("stream opened", "user", s.md.UserID, "device", s.md.DeviceID)

	s.wg.Add(1)
	go s.receive(st)
	return st, nil
}

// receive delivers inbound messages until the stream ends.
func (s *Session) receive(st Stream) {
	defer s.wg.Done()
	for {
		msg, err := st.Recv()
		if err != nil {
			s.fail(err)
			return
		}
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub == nil || sub.OnMessage == nil {
			s.logger.Warn("message dropped: no subscriber", "kind", msg.Kind())
			continue
		}
		sub.OnMessage(msg)
	}
}

func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.err = fmt.Errorf("%w: %w", ErrSessionFailed, cause)
	err := s.err
	sub := s.sub
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.logger.Error("stream terminated", "error", cause)
	if sub != nil && sub.OnTerminal != nil {
		sub.OnTerminal(err)
	}
}

// Close ends the stream and waits for the receive goroutine. The Session
// cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	st := s.stream
	cancel := s.cancel
	open := s.state == StateOpen
	if open {
		s.state = StateClosed
	}
	s.mu.Unlock()

	var err error
	if open {
		s.sendMu.Lock()
		err = st.CloseSend()
		s.sendMu.Unlock()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return err
}
