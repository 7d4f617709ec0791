package chat

import "time"

// Message is one persisted chat message. Immutable once created; ID and
// CreatedAt are assigned by the store on append.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryRecord is the result of a send: the persisted message plus how many
// live connections of the recipient were notified. Notified == 0 means the
// recipient was offline, which is not an error.
type DeliveryRecord struct {
	Message  Message
	Notified int
}
