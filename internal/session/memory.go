package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/roach88/countersync/internal/wire"
)

const memoryBuffer = 256

// MemoryTransport is an in-process Opener. Every Open creates a
// MemoryConn that the server side picks up with Accept.
type MemoryTransport struct {
	mu      sync.Mutex
	openErr error
	opened  int
	conns   chan *MemoryConn
}

// NewMemoryTransport creates an empty transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{conns: make(chan *MemoryConn, 16)}
}

// FailOpens makes subsequent Open calls return err. A nil err clears it.
func (t *MemoryTransport) FailOpens(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// Opened returns how many streams were opened.
func (t *MemoryTransport) Opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened
}

// Open implements Opener.
func (t *MemoryTransport) Open(ctx context.Context, md Metadata) (Stream, error) {
	t.mu.Lock()
	if t.openErr != nil {
		err := t.openErr
		t.mu.Unlock()
		return nil, err
	}
	t.opened++
	t.mu.Unlock()

	c := &MemoryConn{
		Metadata: md,
		toServer: make(chan *wire.ClientMessage, memoryBuffer),
		toClient: make(chan *wire.ServerMessage, memoryBuffer),
		failed:   make(chan struct{}),
		halfDone: make(chan struct{}),
	}
	select {
	case t.conns <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryStream{ctx: ctx, conn: c}, nil
}

// Accept returns the next opened connection.
func (t *MemoryTransport) Accept(ctx context.Context) (*MemoryConn, error) {
	select {
	case c := <-t.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MemoryConn is the server side of one in-process stream.
type MemoryConn struct {
	Metadata Metadata

	toServer chan *wire.ClientMessage
	toClient chan *wire.ServerMessage

	failOnce sync.Once
	failErr  error
	failed   chan struct{}

	halfOnce sync.Once
	halfDone chan struct{}
}

// Recv returns the next client message. It returns io.EOF once the client
// has closed its send side and every message was read.
func (c *MemoryConn) Recv(ctx context.Context) (*wire.ClientMessage, error) {
	select {
	case msg := <-c.toServer:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.toServer:
		return msg, nil
	case <-c.halfDone:
		select {
		case msg := <-c.toServer:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send delivers a server message to the client.
func (c *MemoryConn) Send(msg *wire.ServerMessage) error {
	select {
	case <-c.failed:
		return errors.New("memory stream: connection failed")
	default:
	}
	c.toClient <- msg
	return nil
}

// Fail breaks the stream. The client receives err after any messages
// already sent. A nil err ends the stream with io.EOF.
func (c *MemoryConn) Fail(err error) {
	if err == nil {
		err = io.EOF
	}
	c.failOnce.Do(func() {
		c.failErr = err
		close(c.failed)
	})
}

type memoryStream struct {
	ctx  context.Context
	conn *MemoryConn
}

func (s *memoryStream) Send(msg *wire.ClientMessage) error {
	select {
	case <-s.conn.failed:
		return s.conn.failErr
	case <-s.conn.halfDone:
		return errors.New("memory stream: send after close")
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.conn.toServer <- msg:
		return nil
	}
}

func (s *memoryStream) Recv() (*wire.ServerMessage, error) {
	select {
	case msg := <-s.conn.toClient:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.conn.toClient:
		return msg, nil
	case <-s.conn.failed:
		select {
		case msg := <-s.conn.toClient:
			return msg, nil
		default:
			return nil, s.conn.failErr
		}
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *memoryStream) CloseSend() error {
	s.conn.halfOnce.Do(func() { close(s.conn.halfDone) })
	return nil
}
