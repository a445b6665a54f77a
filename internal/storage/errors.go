package storage

import "errors"

// ErrTradeNotFound is returned when no journaled trade matches the given
// execution ID.
var ErrTradeNotFound = errors.New("trade not found")

// ErrMissingExecutionID rejects records that cannot be keyed.
var ErrMissingExecutionID = errors.New("record missing execution id")
