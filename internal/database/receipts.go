package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// RecordReceipt inserts a (message, recipient, state) receipt, rejecting
// backward transitions against whatever state is already on record.
// Monotonicity (sent < delivered < read) is enforced here rather than
// relying on callers to never send a stale transition.
func (db *DB) RecordReceipt(ctx context.Context, r models.Receipt) error {
	return db.withTransaction(func(tx *sqlx.Tx) error {
		var existing models.ReceiptState
		err := tx.GetContext(ctx, &existing,
			`SELECT state FROM receipts WHERE message_id = $1 AND recipient_user_id = $2 ORDER BY
			 CASE state WHEN 'read' THEN 2 WHEN 'delivered' THEN 1 ELSE 0 END DESC LIMIT 1`,
			r.MessageID, r.RecipientID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && existing.Rank() >= r.State.Rank() {
			return nil // already at or past this state; no-op, not an error
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipts (message_id, recipient_user_id, state, timestamp)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, recipient_user_id, state) DO NOTHING`,
			r.MessageID, r.RecipientID, r.State, r.Timestamp)
		return err
	})
}

// ReceiptsFor returns every receipt recorded for a message.
func (db *DB) ReceiptsFor(ctx context.Context, messageID string) ([]models.Receipt, error) {
	var out []models.Receipt
	err := db.SelectContext(ctx, &out,
		`SELECT message_id, recipient_user_id, state, timestamp FROM receipts WHERE message_id = $1`, messageID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return out, nil
}
