package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// MessageRepository handles message and inbox persistence.
type MessageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *DB, logger *zap.Logger) *MessageRepository {
	return &MessageRepository{
		db:     db,
		logger: logger,
	}
}

// CreateMessage inserts a new message row.
func (r *MessageRepository) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, user_id, related_entity_id, template_id, channel, priority,
			payload, variables, variant_id, status, attempt, max_retries, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		msg.ID,
		msg.UserID,
		msg.RelatedEntityID,
		msg.TemplateID,
		string(msg.Channel),
		string(msg.Priority),
		msg.Payload,
		msg.Variables,
		msg.VariantID,
		msg.Status,
		msg.Attempt,
		msg.MaxRetries,
		msg.ScheduledAt,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create message",
			zap.Error(err),
			zap.String("message_id", msg.ID.String()),
			zap.String("channel", string(msg.Channel)),
		)
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// GetMessage retrieves a message by ID.
func (r *MessageRepository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT
			id, user_id, related_entity_id, template_id, channel, priority,
			payload, variables, variant_id, status, attempt, max_retries,
			scheduled_at, sent_at, estimated_delivery, error_message,
			created_at, updated_at
		FROM messages
		WHERE id = $1
	`

	var msg Message
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.UserID,
		&msg.RelatedEntityID,
		&msg.TemplateID,
		&msg.Channel,
		&msg.Priority,
		&msg.Payload,
		&msg.Variables,
		&msg.VariantID,
		&msg.Status,
		&msg.Attempt,
		&msg.MaxRetries,
		&msg.ScheduledAt,
		&msg.SentAt,
		&msg.EstimatedDelivery,
		&msg.ErrorMessage,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &msg, nil
}

// UpdateMessageStatus records the outcome of a delivery attempt.
func (r *MessageRepository) UpdateMessageStatus(
	ctx context.Context,
	id uuid.UUID,
	status string,
	attempt int,
	errorMsg *string,
	estimatedDelivery *time.Time,
) error {
	query := `
		UPDATE messages
		SET status = $1,
		    attempt = $2,
		    error_message = $3,
		    estimated_delivery = $4,
		    sent_at = CASE WHEN $1 = 'sent' THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, status, attempt, errorMsg, estimatedDelivery, id)
	if err != nil {
		r.logger.Error("failed to update message status",
			zap.Error(err),
			zap.String("message_id", id.String()),
		)
		return fmt.Errorf("update message status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not found: %s", id)
	}

	return nil
}

// ClaimDueQueued atomically flips due queued messages back to pending and
// returns them, so exactly one scheduler worker delivers each.
func (r *MessageRepository) ClaimDueQueued(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		UPDATE messages
		SET status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM messages
			WHERE status = $2 AND scheduled_at <= NOW()
			ORDER BY scheduled_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING
			id, user_id, related_entity_id, template_id, channel, priority,
			payload, variables, variant_id, status, attempt, max_retries,
			scheduled_at, sent_at, estimated_delivery, error_message,
			created_at, updated_at
	`

	rows, err := r.db.Pool().Query(ctx, query, StatusPending, StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("claim queued messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.RelatedEntityID,
			&msg.TemplateID,
			&msg.Channel,
			&msg.Priority,
			&msg.Payload,
			&msg.Variables,
			&msg.VariantID,
			&msg.Status,
			&msg.Attempt,
			&msg.MaxRetries,
			&msg.ScheduledAt,
			&msg.SentAt,
			&msg.EstimatedDelivery,
			&msg.ErrorMessage,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return messages, nil
}

// CreateInboxItem writes the in-app copy of a message.
func (r *MessageRepository) CreateInboxItem(ctx context.Context, item *InboxItem) error {
	query := `
		INSERT INTO inbox_items (id, user_id, message_id, title, body, ctas)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		item.ID,
		item.UserID,
		item.MessageID,
		item.Title,
		item.Body,
		item.CTAs,
	).Scan(&item.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert inbox item: %w", err)
	}

	return nil
}

// ListInboxByUser retrieves a user's inbox, newest first.
func (r *MessageRepository) ListInboxByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*InboxItem, error) {
	query := `
		SELECT id, user_id, message_id, title, body, ctas, read_at, created_at
		FROM inbox_items
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query inbox items: %w", err)
	}
	defer rows.Close()

	var items []*InboxItem
	for rows.Next() {
		var item InboxItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.MessageID,
			&item.Title,
			&item.Body,
			&item.CTAs,
			&item.ReadAt,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan inbox item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}
