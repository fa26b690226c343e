package streamer

import "errors"

var (
	// ErrHandshakeRejected is returned when the feed refuses the handshake,
	// typically because the streamer token is expired.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrHandshakeTimeout is returned when no handshake reply arrives in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrTransportFault wraps transport failures that end a connection.
	ErrTransportFault = errors.New("transport fault")
	// ErrNotConnected is returned by writes while no connection is up.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by operations on a closed streamer.
	ErrClosed = errors.New("streamer closed")
)
