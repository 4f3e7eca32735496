// Package stream is the transport-neutral view of a client connection used by the
// matchmaking and play-loop code.
package stream

import (
	"context"
	"errors"
)

var (
	// ErrTransport marks a read or write failure of the underlying connection.
	ErrTransport = errors.New("stream transport failure")
	// ErrMalformed marks a frame that arrived intact but could not be decoded.
	ErrMalformed = errors.New("malformed frame")
)

// Sender delivers one JSON frame to the client.
type Sender interface {
	Send(ctx context.Context, v interface{}) error
}

// Receiver decodes the next client frame into v. It returns io.EOF when the client ended the
// stream cleanly.
type Receiver interface {
	Receive(ctx context.Context, v interface{}) error
}

type Conn interface {
	Sender
	Receiver
}
