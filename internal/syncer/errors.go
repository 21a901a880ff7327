package syncer

import (
	"context"
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a cycle is requested while another is
// running. Requests are never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// ConnectivityError reports that the server could not be reached, or that a
// request timed out or was cancelled.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("sync %s: server unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ServerRejectedError reports a non-success HTTP status from the server.
type ServerRejectedError struct {
	Op         string
	StatusCode int
	Title      string
	Detail     string
}

func (e *ServerRejectedError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Title
	}
	if msg == "" {
		return fmt.Sprintf("sync %s: server rejected request (%d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("sync %s: server rejected request (%d): %s", e.Op, e.StatusCode, msg)
}

// IsOffline reports whether err is a connectivity failure.
func IsOffline(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// classify turns timeouts and cancellations into connectivity failures and
// leaves every other error as it is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectivityError
	var re *ServerRejectedError
	if errors.As(err, &ce) || errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ConnectivityError{Op: op, Err: err}
	}
	return fmt.Errorf("sync %s: %w", op, err)
}
