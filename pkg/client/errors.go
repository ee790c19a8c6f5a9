package client

import "errors"

var (
	// ErrRequestTimeout is returned when a correlated request sees no
	// response within its deadline. The late response, if any, is dropped.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrChannelClosed is returned for requests pending on a channel that
	// disconnected permanently.
	ErrChannelClosed = errors.New("channel is closed")

	// ErrProducerExists rejects a second producer of the same media kind
	// before any signaling happens.
	ErrProducerExists = errors.New("producer already exists for this type")

	// ErrNotJoined guards session operations that need a joined room.
	ErrNotJoined = errors.New("no room joined")
)
