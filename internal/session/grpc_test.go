package session

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/roach88/countersync/internal/entity"
	"github.com/roach88/countersync/internal/wire"
)

// echoServer answers a reset with a snapshot and every acknowledgement with
// an acknowledgement response. It records the incoming metadata.
type echoServer struct {
	md chan metadata.MD
}

func (e *echoServer) synchronize(_ any, stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	e.md <- md
	for {
		in := new(wire.ClientMessage)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var out *wire.ServerMessage
		switch in.Kind() {
		case wire.KindReset:
			out = wire.NewResetResponse("b0", wire.CreateEvent(1, -1, entity.Fields{Name: "a", Value: 2}))
		case wire.KindAcknowledge:
			out = &wire.ServerMessage{EntityEventAcknowledgementResponse: &wire.EntityEventAcknowledgementResponse{
				BatchID: in.EntityEventAcknowledgement.BatchID,
			}}
		default:
			continue
		}
		if err := stream.SendMsg(out); err != nil {
			return err
		}
	}
}

func startBufconnServer(t *testing.T) (*grpc.ClientConn, *echoServer) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	echo := &echoServer{md: make(chan metadata.MD, 1)}
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sync.protocol.SyncService",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    SynchronizeStreamDesc.StreamName,
			Handler:       echo.synchronize,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, echo)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, echo
}

func TestGRPCOpener_RoundTrip(t *testing.T) {
	conn, echo := startBufconnServer(t)

	s := New(NewGRPCOpener(conn), testMetadata)
	defer s.Close()
	rec := newRecorder()
	require.NoError(t, s.Subscribe(rec.subscriber()))

	ctx := context.Background()
	require.NoError(t, s.Reset(ctx))
	require.NoError(t, s.Acknowledge(ctx, "b0"))
	rec.wait(t, 2)

	msgs, terminal := rec.snapshot()
	require.Len(t, msgs, 2)
	assert.Empty(t, terminal)

	require.NotNil(t, msgs[0].ResetResponse)
	events := msgs[0].ResetResponse.EntityEvents.EntityEvents
	require.Len(t, events, 1)
	f, err := wire.DecodeCounterBody(events[0].Create.Body)
	require.NoError(t, err)
	assert.Equal(t, entity.Fields{Name: "a", Value: 2}, f)
	assert.Equal(t, "b0", msgs[1].EntityEventAcknowledgementResponse.BatchID)

	select {
	case md := <-echo.md:
		assert.Equal(t, []string{"user1"}, md.Get(MetadataUserID))
		assert.Equal(t, []string{"device1"}, md.Get(MetadataDeviceID))
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the stream")
	}
}

func TestGRPCOpener_ServerEndIsTerminal(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sync.protocol.SyncService",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName: SynchronizeStreamDesc.StreamName,
			Handler: func(_ any, stream grpc.ServerStream) error {
				return stream.RecvMsg(new(wire.ClientMessage))
			},
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	defer conn.Close()

	s := New(NewGRPCOpener(conn), testMetadata)
	defer s.Close()
	rec := newRecorder()
	require.NoError(t, s.Subscribe(rec.subscriber()))
	require.NoError(t, s.Reset(context.Background()))
	rec.wait(t, 1)

	_, terminal := rec.snapshot()
	require.Len(t, terminal, 1)
	assert.ErrorIs(t, terminal[0], ErrSessionFailed)
	assert.Equal(t, StateFailed, s.State())
}
