package app

import "errors"

var (
	// ErrNotIdle means a join was attempted while a room session exists.
	ErrNotIdle = errors.New("room session already active")
	// ErrNotActive means the operation needs an active room session.
	ErrNotActive = errors.New("no active room session")
	// ErrScreenShareActive means a screen share is already running.
	ErrScreenShareActive = errors.New("screen share already running")
)
