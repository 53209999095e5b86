package coordinator

import "errors"

var (
	ErrNotEnoughPeers = errors.New("not enough peers available")
	ErrInvalidConfig  = errors.New("invalid training configuration")
)
