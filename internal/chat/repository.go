package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// Repository is the postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, msg Message) (Message, error) {
	query := `INSERT INTO messages (sender_id, recipient_id, content)
              VALUES ($1, $2, $3)
              RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, msg.SenderID, msg.RecipientID, msg.Body).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (r *Repository) Conversation(ctx context.Context, userA, userB string) ([]Message, error) {
	// Direction-agnostic pair lookup: ordered by creation time, id as a
	// deterministic tiebreak for equal timestamps.
	query := `
		SELECT m.id, m.sender_id, u.username, m.recipient_id, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE (m.sender_id = $1 AND m.recipient_id = $2)
		   OR (m.sender_id = $2 AND m.recipient_id = $1)
		ORDER BY m.created_at ASC, m.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.RecipientID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
