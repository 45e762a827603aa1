package ports

import (
	"context"
)

// ISocket is one open bidirectional message connection.
// Write must be safe for concurrent use. Read is called from a single goroutine
// and returns *myerrors.CloseError once the peer closes.
type ISocket interface {
	Write(data []byte) error
	Read() ([]byte, error)
	Close(code int, reason string) error
}

type IDialer interface {
	Dial(ctx context.Context, url string) (ISocket, error)
}
