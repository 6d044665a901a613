package session

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/roach88/countersync/internal/wire"
)

// HTTP headers carrying Metadata on the WebSocket handshake.
const (
	HeaderUserID   = "userId"
	HeaderDeviceID = "deviceId"
)

const wsReadLimit = 1 << 20

// WebSocketOpener opens sync streams as WebSocket connections exchanging
// JSON text frames.
type WebSocketOpener struct {
	URL        string
	HTTPClient *http.Client
}

// Open dials the WebSocket endpoint.
func (o *WebSocketOpener) Open(ctx context.Context, md Metadata) (Stream, error) {
	header := http.Header{}
	header.Set(HeaderUserID, md.UserID)
	header.Set(HeaderDeviceID, md.DeviceID)

	conn, _, err := websocket.Dial(ctx, o.URL, &websocket.DialOptions{
		HTTPClient: o.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.URL, err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &wsStream{ctx: ctx, conn: conn}, nil
}

type wsStream struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (s *wsStream) Send(msg *wire.ClientMessage) error {
	return wsjson.Write(s.ctx, s.conn, msg)
}

func (s *wsStream) Recv() (*wire.ServerMessage, error) {
	msg := new(wire.ServerMessage)
	if err := wsjson.Read(s.ctx, s.conn, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *wsStream) CloseSend() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
