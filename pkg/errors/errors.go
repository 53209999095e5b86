package errors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrEmptyKey       = errors.New("empty key")
	ErrInvalidData    = errors.New("invalid data type")
	ErrEntityExists   = errors.New("entity already exists")
	ErrPeerNotFound   = errors.New("peer not found")
	ErrNotRegistered  = errors.New("peer has not registered")
	ErrShuttingDown   = errors.New("service is shutting down")
	ErrAlreadyRunning = errors.New("training run already in progress")
	ErrNotRunning     = errors.New("no training run in progress")
)
