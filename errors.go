package trucksbus

import "errors"

var (
	// ErrNotConnected is returned when emitting without a live channel.
	ErrNotConnected = errors.New("trucksbus: not connected")

	// ErrInvalidSession is returned when a session lacks a user or a token.
	ErrInvalidSession = errors.New("trucksbus: session requires user id and token")

	// ErrClosed is returned after the messenger has been shut down.
	ErrClosed = errors.New("trucksbus: messenger closed")
)
