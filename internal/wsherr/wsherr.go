// Package wsherr defines the error kinds shared across the session
// multiplexer, following the plain sentinel-plus-%w style the rest of
// this codebase uses rather than a custom error type hierarchy.
package wsherr

import "errors"

var (
	// ErrSpawn indicates the child process or its PTY failed to start.
	ErrSpawn = errors.New("spawn error")

	// ErrPtyIO indicates a read or write against the PTY master failed.
	ErrPtyIO = errors.New("pty io error")

	// ErrResize indicates applying a size to the PTY failed.
	ErrResize = errors.New("resize error")

	// ErrTransport indicates a client transport send or receive failed.
	ErrTransport = errors.New("transport error")

	// ErrProtocol indicates a malformed frame or invalid base64 payload.
	ErrProtocol = errors.New("protocol error")

	// ErrShutdown indicates the operation did not complete because the
	// session shutdown token had already fired.
	ErrShutdown = errors.New("shutdown requested")
)
