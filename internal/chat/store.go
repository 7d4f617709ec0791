package chat

import "context"

// Store is the conversation store adapter: the relay's only view of the
// external persistence service.
type Store interface {
	// Append durably writes the message and returns it with its assigned id
	// and creation timestamp.
	Append(ctx context.Context, msg Message) (Message, error)

	// Conversation returns all messages between the two users, in either
	// direction, ascending by creation time. A fresh read on every call.
	Conversation(ctx context.Context, userA, userB string) ([]Message, error)

	Ping(ctx context.Context) error
}
