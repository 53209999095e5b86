package bridge

import "errors"

var (
	ErrTimeout    = errors.New("peer did not respond in time")
	ErrAborted    = errors.New("request aborted")
	ErrSuperseded = errors.New("request superseded by a newer round")
	ErrPeerFailed = errors.New("peer reported failure")
)
