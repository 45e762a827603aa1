package myerrors

import (
	"errors"
	"fmt"
)

const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

var (
	ErrTargetActive       = errors.New("another tracking target is active, disconnect first")
	ErrConnectInProgress  = errors.New("connect already in progress")
	ErrConnectAborted     = errors.New("connect aborted by disconnect")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrManagerClosed      = errors.New("connection manager is closed")
	ErrInvalidToken       = errors.New("auth token is malformed")
	ErrTokenExpired       = errors.New("auth token is expired")
)

// CloseError reports how a socket was closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("socket closed: code=%d reason=%q", e.Code, e.Reason)
}

// CloseDetails pulls the close code out of a read error. Anything that is not
// a clean close frame counts as an abnormal closure.
func CloseDetails(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err == nil {
		return CloseNormalClosure, ""
	}
	return CloseAbnormalClosure, err.Error()
}
