package weights

import "errors"

var (
	ErrInvalidShape  = errors.New("invalid tensor shape")
	ErrShapeMismatch = errors.New("tensor shape does not match element count")
	ErrLayerCount    = errors.New("unexpected number of tensor layers")
	ErrUnsupported   = errors.New("unsupported tensor dtype")
	ErrEncoding      = errors.New("invalid tensor data encoding")
	ErrNonFinite     = errors.New("tensor contains non-finite values")
	ErrNotArray      = errors.New("weights must be an array of tensors")
)
