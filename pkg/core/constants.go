package core

import "errors"

// Errors
var (
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidPrice     = errors.New("invalid price")
	ErrUnknownOrderKind = errors.New("unknown order kind")
	ErrNilOrder         = errors.New("nil order")
)
