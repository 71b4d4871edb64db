package domain

import "errors"

var (
	// ErrStoreUnavailable wraps persistence failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransportSubmitFailed means every publish attempt failed.
	ErrTransportSubmitFailed = errors.New("transport submit failed")
	// ErrTransportAckFailed is a negative delivery report.
	ErrTransportAckFailed = errors.New("transport ack failed")
	// ErrFanoutFailed wraps local broadcast failures.
	ErrFanoutFailed = errors.New("fanout failed")
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("not found")

	ErrDistributionUnavailable = errors.New("distribution unavailable")
	ErrInvalidMessage          = errors.New("invalid message: room id and content or file are required")
)
