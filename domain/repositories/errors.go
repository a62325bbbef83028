package repositories

import "fmt"

// TransportError wraps a network-level failure against an upstream:
// connection refused, reset, or timed out. It is fatal to the stage that
// hit it but recoverable at the turn level.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UpstreamError is an explicit error reported by an upstream service,
// such as a protocol error frame or a non-success API response.
type UpstreamError struct {
	Code    uint32
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}
