package fl

import "errors"

var (
	ErrNoUpdates      = errors.New("no updates provided for aggregation")
	ErrOverflow       = errors.New("sample count overflow during aggregation")
	ErrLayerMismatch  = errors.New("updates have different numbers of layers")
	ErrShapeMismatch  = errors.New("updates have different layer shapes")
	ErrNoEvaluations  = errors.New("no evaluations provided for aggregation")
	ErrInvalidRoundID = errors.New("invalid round number")
)
