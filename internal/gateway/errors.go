// ABOUTME: Error types returned by the gateway lifecycle
// ABOUTME: BindError wraps listener failures and matches ErrBind via errors.Is

package gateway

import (
	"errors"
	"fmt"
)

// ErrBind matches any *BindError
var ErrBind = errors.New("bind failed")

// ErrAlreadyRunning is returned by Start when the gateway is not stopped
var ErrAlreadyRunning = errors.New("gateway already running")

// BindError reports that the listening socket could not be created.
// Start does not retry it.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

func (e *BindError) Is(target error) bool { return target == ErrBind }
