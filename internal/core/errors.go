package core

import "errors"

var (
	// ErrPermissionDenied means the user declined device access. Surfaced to
	// the caller, which may offer a degraded no-audio join instead.
	ErrPermissionDenied = errors.New("device permission denied")
	// ErrDeviceNotFound means no usable capture device exists.
	ErrDeviceNotFound = errors.New("capture device not found")
	// ErrConstraint means the device exists but rejected the constraint set.
	ErrConstraint = errors.New("capture constraints not satisfiable")
	// ErrNotSupported means the platform has no screen capture support.
	ErrNotSupported = errors.New("capture not supported")
)
