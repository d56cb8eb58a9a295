package error

import "errors"

var (
	ErrIndeterminate    = errors.New("probe outcome indeterminate")
	ErrProtocolDesync   = errors.New("worker protocol desynchronized")
	ErrProcessFault     = errors.New("probe process terminated abnormally")
	ErrWorkerDead       = errors.New("worker is dead")
	ErrWorkerTimeout    = errors.New("worker did not answer in time")
	ErrNoBoundary       = errors.New("no mapped boundary found")
	ErrAddressUnderflow = errors.New("scan address underflowed past zero")
	ErrInvalidStride    = errors.New("scan stride must be positive")
	ErrScanLimit        = errors.New("scan step limit reached")
	ErrSinkInvalid      = errors.New("sink descriptor invalid")
	ErrNoStackHint      = errors.New("no stack hint available")
	ErrInvalidAddress   = errors.New("invalid address")
)
