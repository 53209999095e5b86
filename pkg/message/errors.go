package message

import "errors"

var (
	ErrMalformed   = errors.New("malformed message")
	ErrMissingType = errors.New("message type is missing")
	ErrNotNumeric  = errors.New("value is not numeric")
)
