package internal

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn wraps websocket.Conn with timeouts.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{ws: ws, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

// Dial opens a WebSocket to url.
func Dial(ctx context.Context, url string, handshakeTimeout, readTimeout, writeTimeout time.Duration) (*Conn, error) {
	if handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()
	}
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws, readTimeout, writeTimeout), nil
}

// Read returns the next text or binary frame.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *Conn) Write(ctx context.Context, data []byte) error {
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) Close(code int, reason string) error {
	return c.ws.Close(websocket.StatusCode(code), reason)
}

// CloseCode extracts the close code from a read error. Errors without a close
// frame map to 1006, as a browser reports a dropped connection.
func CloseCode(err error) int {
	if err == nil {
		return int(websocket.StatusNormalClosure)
	}
	if code := websocket.CloseStatus(err); code != -1 {
		return int(code)
	}
	return int(websocket.StatusAbnormalClosure)
}
