package protocol

import "errors"

var (
	// ErrFraming is returned when a header cannot be decoded. It is fatal for
	// the connection.
	ErrFraming = errors.New("framing error")

	// ErrConnectionLost fails pending requests and streams when the transport closes.
	ErrConnectionLost = errors.New("connection lost")

	// ErrStreamCancelled is returned by reads on a content stream that was closed
	// or cancelled before it was fully received.
	ErrStreamCancelled = errors.New("stream cancelled")

	// ErrCancelAll fails pending requests and streams after a CancelAll.
	ErrCancelAll = errors.New("all payloads cancelled")

	// ErrDuplicateRequest is returned when a request ID is already awaiting a response.
	ErrDuplicateRequest = errors.New("request already pending")

	// ErrSessionClosed is returned when sending on a session that has stopped.
	ErrSessionClosed = errors.New("session closed")
)
