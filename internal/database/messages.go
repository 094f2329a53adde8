package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// InsertMessage persists a message, bumping the owning conversation's
// last-message pointer in the same transaction. The INSERT is a no-op on
// a duplicate idempotency key so the consumer's retry path stays safe to
// call twice for the same envelope.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) (inserted bool, err error) {
	err = db.withTransaction(func(tx *sqlx.Tx) error {
		res, ierr := tx.ExecContext(ctx, `
			INSERT INTO messages (
				message_id, conversation_id, sender_id, content, payload_key,
				content_type, media_url, created_at, idempotency_key, correlation_id, deleted_by
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (idempotency_key) DO NOTHING`,
			msg.MessageID, msg.ConversationID, msg.SenderID, msg.Content, msg.PayloadKey,
			msg.ContentType, msg.MediaURL, msg.CreatedAt, msg.IdempotencyKey, msg.CorrelationID, msg.DeletedBy)
		if ierr != nil {
			return ierr
		}
		rows, ierr := res.RowsAffected()
		if ierr != nil {
			return ierr
		}
		inserted = rows > 0
		if !inserted {
			return nil
		}

		_, ierr = tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_id = $1, last_message_at = $2 WHERE id = $3`,
			msg.MessageID, msg.CreatedAt, msg.ConversationID)
		return ierr
	})
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodePersistenceTransient)
	}
	return inserted, nil
}

// MessageByIdempotencyKey looks up a previously persisted message by its
// idempotency key, used by the ingress dedupe flow's persistence check.
func (db *DB) MessageByIdempotencyKey(ctx context.Context, key string) (*models.Message, error) {
	var msg models.Message
	err := db.GetContext(ctx, &msg, `
		SELECT message_id, conversation_id, sender_id, content, payload_key, content_type,
		       media_url, created_at, idempotency_key, correlation_id, deleted_by
		FROM messages WHERE idempotency_key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return &msg, nil
}

// GetMessages returns a cursor-paginated page of messages in a
// conversation in ascending time order for display, excluding soft-deleted
// rows. The underlying query runs newest-first so "before" pagination
// walks backward from the cursor; the page is reversed before it is
// returned.
func (db *DB) GetMessages(ctx context.Context, conversationID string, before *string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT message_id, conversation_id, sender_id, content, payload_key, content_type,
		       media_url, created_at, idempotency_key, correlation_id, deleted_by
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_by IS NULL
		  AND ($2::text IS NULL OR message_id < $2)
		ORDER BY message_id DESC
		LIMIT $3`

	var out []models.Message
	err := db.readReplicaFirst(func(q sqlx.QueryerContext) error {
		return sqlx.SelectContext(ctx, q, &out, query, conversationID, before, limit)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	reverseMessages(out)
	return out, nil
}

func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

// SearchMessages returns a conversation's messages whose content contains
// the query as a case-insensitive substring, newest first, mirroring
// SearchConversations' ILIKE approach rather than standing up a separate
// text-search index.
func (db *DB) SearchMessages(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	const q = `
		SELECT message_id, conversation_id, sender_id, content, payload_key, content_type,
		       media_url, created_at, idempotency_key, correlation_id, deleted_by
		FROM messages
		WHERE conversation_id = $1
		  AND deleted_by IS NULL
		  AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC
		LIMIT $3`

	var out []models.Message
	err := db.readReplicaFirst(func(qx sqlx.QueryerContext) error {
		return sqlx.SelectContext(ctx, qx, &out, q, conversationID, query, limit)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return out, nil
}

// SoftDeleteMessage marks a message deleted-by a given user without
// removing the row, preserving it for any in-flight receipts.
func (db *DB) SoftDeleteMessage(ctx context.Context, messageID, deletedBy string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET deleted_by = $1 WHERE message_id = $2 AND deleted_by IS NULL`,
		deletedBy, messageID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}
