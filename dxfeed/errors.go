package dxfeed

import "errors"

var (
	// ErrMalformedFrame is returned when an inbound frame is not a cometd
	// envelope.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMalformedPayload is returned when event data does not match any known
	// layout.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMalformedBatch is returned when the value count is not an integer
	// multiple of the field count.
	ErrMalformedBatch = errors.New("malformed batch")
	// ErrUnknownSchema is returned when a value-only sample arrives before any
	// sample carrying field names for its event type.
	ErrUnknownSchema = errors.New("unknown schema")
)
