package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
)

// WebSocketDialer dials real WebSocket connections.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request; nil means http.DefaultClient.
	HTTPClient *http.Client
	// ReadLimit caps a single message in bytes; 0 keeps the library default.
	ReadLimit int64
}

// Dial opens a WebSocket to url. A rejected upgrade is reported as a
// *HandshakeError carrying the HTTP status.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode != 0 {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn
}

func (s *wsSocket) Read(ctx context.Context) (bool, []byte, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return false, nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return false, nil, err
	}
	return typ == websocket.MessageBinary, data, nil
}

func (s *wsSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *wsSocket) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}

func (s *wsSocket) CloseNow() error {
	return s.conn.CloseNow()
}
