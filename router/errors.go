package router

import "errors"

var (
	ErrStopped        = errors.New("router is stopped")
	ErrStopTimeout    = errors.New("router stop timed out")
	ErrAlreadyRunning = errors.New("router is already running")
)
