package chat

import "errors"

var (
	// ErrValidation marks malformed input, rejected before any side effect.
	ErrValidation = errors.New("invalid message")

	// ErrStorage marks a persistence failure. The message was NOT delivered;
	// durability precedes delivery, there is no fire-and-forget path.
	ErrStorage = errors.New("message store error")
)
