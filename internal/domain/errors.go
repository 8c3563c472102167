package domain

import "errors"

// ErrUnknownInstrument is returned by an Exchange implementation when a
// symbol has no registered contract spec.
var ErrUnknownInstrument = errors.New("unknown instrument")
