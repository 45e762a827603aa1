package services

import (
	"context"
	"errors"
	"sync"

	"ride-tracker/internal/tracking-service/core/myerrors"
	"ride-tracker/internal/tracking-service/core/ports"
)

type fakeSocket struct {
	in     chan []byte
	closed chan struct{}

	mu        sync.Mutex
	writes    [][]byte
	failWrite bool
	closeErr  error
	closeOnce sync.Once
	// localCloses counts Close calls made by the manager.
	localCloses int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), data...))
	if s.failWrite {
		return errors.New("broken pipe")
	}
	return nil
}

func (s *fakeSocket) Read() ([]byte, error) {
	select {
	case data := <-s.in:
		return data, nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return nil, s.closeErr
	}
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	s.localCloses++
	s.mu.Unlock()
	s.peerClose(code, reason)
	return nil
}

func (s *fakeSocket) closedLocally() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localCloses
}

// peerClose simulates the server closing the connection.
func (s *fakeSocket) peerClose(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = &myerrors.CloseError{Code: code, Reason: reason}
		s.mu.Unlock()
		close(s.closed)
	})
}

func (s *fakeSocket) setFailWrite(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = fail
}

func (s *fakeSocket) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	urls    []string
	sockets []*fakeSocket
	fail    bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (ports.ISocket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}
