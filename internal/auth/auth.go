// Package auth implements the Auth Adapter boundary of spec.md §4.I: a
// thin synchronous bridge between LOGIN/REGISTER frames and an external
// credential service whose own implementation is out of scope. The core
// only ever sees the Adapter interface.
package auth

import "context"

// Adapter bridges LOGIN/REGISTER frames to a credential service. The
// credential blob is opaque to the core; implementations decide what it
// means. Network-level failures must be reported as (false, message), never
// as an error return, so the caller always has a frame to send back
// (spec.md §4.I: "network-level failures are also reported as _FAIL").
type Adapter interface {
	Login(ctx context.Context, name string, credential []byte) (ok bool, message string)
	Register(ctx context.Context, name string, credential []byte) (ok bool, message string)
}

// NopAdapter accepts any non-empty name and credential. It is the default
// adapter and the one used by the core's own tests, standing in for the
// out-of-scope credential service.
type NopAdapter struct{}

// Login implements Adapter.
func (NopAdapter) Login(_ context.Context, name string, credential []byte) (bool, string) {
	if name == "" || len(credential) == 0 {
		return false, "empty name or credential"
	}
	return true, "ok"
}

// Register implements Adapter.
func (NopAdapter) Register(_ context.Context, name string, credential []byte) (bool, string) {
	if name == "" || len(credential) == 0 {
		return false, "empty name or credential"
	}
	return true, "ok"
}
