package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/roach88/countersync/internal/wire"
)

// SynchronizeMethod is the full gRPC method name of the sync stream.
const SynchronizeMethod = "/sync.protocol.SyncService/Synchronize"

// Metadata keys attached to every stream. gRPC lowercases them on the wire.
const (
	MetadataUserID   = "userId"
	MetadataDeviceID = "deviceId"
)

// SynchronizeStreamDesc describes the bidirectional sync stream.
var SynchronizeStreamDesc = grpc.StreamDesc{
	StreamName:    "Synchronize",
	ServerStreams: true,
	ClientStreams: true,
}

// DefaultDialOptions returns the dial options every sync client uses:
// plaintext transport, OTel stats and the JSON envelope codec.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
	}
}

// DialGRPC creates a client connection to addr. The connection is lazy;
// nothing is dialed until the first stream opens.
func DialGRPC(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, append(DefaultDialOptions(), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// GRPCOpener opens sync streams on a gRPC connection.
type GRPCOpener struct {
	conn grpc.ClientConnInterface
}

// NewGRPCOpener creates an opener over conn.
func NewGRPCOpener(conn grpc.ClientConnInterface) *GRPCOpener {
	return &GRPCOpener{conn: conn}
}

// Open starts a Synchronize stream tagged with md.
func (o *GRPCOpener) Open(ctx context.Context, md Metadata) (Stream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx,
		MetadataUserID, md.UserID,
		MetadataDeviceID, md.DeviceID,
	)
	cs, err := o.conn.NewStream(ctx, &SynchronizeStreamDesc, SynchronizeMethod, grpc.CallContentSubtype(wire.CodecName))
	if err != nil {
		return nil, fmt.Errorf("open synchronize stream: %w", err)
	}
	return &grpcStream{cs: cs}, nil
}

type grpcStream struct {
	cs grpc.ClientStream
}

func (s *grpcStream) Send(msg *wire.ClientMessage) error {
	return s.cs.SendMsg(msg)
}

func (s *grpcStream) Recv() (*wire.ServerMessage, error) {
	msg := new(wire.ServerMessage)
	if err := s.cs.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *grpcStream) CloseSend() error {
	return s.cs.CloseSend()
}
