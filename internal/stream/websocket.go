package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coder/websocket"
)

const defaultWriteTimeout = 3 * time.Second

// WSConn adapts a coder/websocket connection to Conn using JSON text frames.
type WSConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

func NewWSConn(c *websocket.Conn) *WSConn {
	return &WSConn{c: c, writeTimeout: defaultWriteTimeout}
}

// Send marshals v and writes it as one text message.
func (w *WSConn) Send(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Receive reads one message. Normal closure and going-away map to io.EOF, every other read
// error is a transport failure.
func (w *WSConn) Receive(ctx context.Context, v interface{}) error {
	msgType, data, err := w.c.Read(ctx)
	if err != nil {
		status := websocket.CloseStatus(err)
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if msgType != websocket.MessageText {
		return fmt.Errorf("%w: expected text message", ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Close closes the connection with the given status and reason.
func (w *WSConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

// CloseRead starts discarding inbound frames and returns a context that is cancelled once
// the peer goes away. Used by connect streams that only write.
func (w *WSConn) CloseRead(ctx context.Context) context.Context {
	return w.c.CloseRead(ctx)
}
