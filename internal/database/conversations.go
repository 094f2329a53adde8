package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"chatcore/internal/apperrors"
	"chatcore/internal/models"
)

// directKey derives the unordered-pair uniqueness key for a two-party
// conversation, so re-creating a direct conversation between the same two
// users returns the existing row instead of duplicating it.
func directKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(pair[0] + ":" + pair[1]))
	return hex.EncodeToString(sum[:])
}

// CreateDirectConversation returns the existing direct conversation between
// the two users if one exists, otherwise creates one with both as members.
func (db *DB) CreateDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	key := directKey(userA, userB)

	var conv models.Conversation
	err := db.GetContext(ctx, &conv,
		`SELECT id, kind, title, description, is_active, last_message_id, last_message_at, created_at, direct_key
		 FROM conversations WHERE direct_key = $1`, key)
	if err == nil {
		return &conv, nil
	}
	if err != sql.ErrNoRows {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}

	err = db.withTransaction(func(tx *sqlx.Tx) error {
		if ierr := tx.GetContext(ctx, &conv,
			`INSERT INTO conversations (kind, is_active, created_at, direct_key)
			 VALUES ('direct', true, now(), $1)
			 ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
			 RETURNING id, kind, title, description, is_active, last_message_id, last_message_at, created_at, direct_key`,
			key); ierr != nil {
			return ierr
		}
		for _, uid := range []string{userA, userB} {
			if _, ierr := tx.ExecContext(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, role, is_active, joined_at)
				 VALUES ($1, $2, 'member', true, now())
				 ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, uid); ierr != nil {
				return ierr
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return &conv, nil
}

// CreateGroupConversation creates a group conversation with the owner as
// the first member and every other member as MemberRole member.
func (db *DB) CreateGroupConversation(ctx context.Context, ownerID string, title string, memberIDs []string) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.withTransaction(func(tx *sqlx.Tx) error {
		if ierr := tx.GetContext(ctx, &conv,
			`INSERT INTO conversations (kind, title, is_active, created_at)
			 VALUES ('group', $1, true, now())
			 RETURNING id, kind, title, description, is_active, last_message_id, last_message_at, created_at, direct_key`,
			title); ierr != nil {
			return ierr
		}
		if _, ierr := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, role, is_active, joined_at)
			 VALUES ($1, $2, 'owner', true, now())`, conv.ID, ownerID); ierr != nil {
			return ierr
		}
		for _, uid := range memberIDs {
			if uid == ownerID {
				continue
			}
			if _, ierr := tx.ExecContext(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, role, is_active, joined_at)
				 VALUES ($1, $2, 'member', true, now())
				 ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, uid); ierr != nil {
				return ierr
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return &conv, nil
}

// GetConversation fetches a conversation by id, routing through the
// configured replica when one is available.
func (db *DB) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	query := `SELECT id, kind, title, description, is_active, last_message_id, last_message_at, created_at, direct_key
	          FROM conversations WHERE id = $1`

	err := db.readReplicaFirst(func(q sqlx.QueryerContext) error {
		return sqlx.GetContext(ctx, q, &conv, query, conversationID)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return &conv, nil
}

// IsActiveMember reports whether userID is an active member of
// conversationID, used by the producer's authorization check.
func (db *DB) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2 AND is_active)`,
		conversationID, userID)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return exists, nil
}

// MemberIDs returns every active member of a conversation.
func (db *DB) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := db.SelectContext(ctx, &ids,
		`SELECT user_id FROM conversation_members WHERE conversation_id = $1 AND is_active`, conversationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return ids, nil
}

// ListConversations returns a cursor-paginated page of conversation
// summaries for userID, each carrying batched unread-count and
// participant-count aggregates computed in the same round trip.
func (db *DB) ListConversations(ctx context.Context, userID string, cursor *time.Time, limit int) ([]models.ConversationSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT
			c.id, c.kind, c.title, c.description, c.is_active,
			c.last_message_id, c.last_message_at, c.created_at, c.direct_key,
			COALESCE(unread.cnt, 0) AS unread_count,
			COALESCE(participants.cnt, 0) AS participant_count
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1 AND cm.is_active
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS cnt FROM messages m
			WHERE m.conversation_id = c.id
			  AND NOT EXISTS (
			      SELECT 1 FROM receipts r
			      WHERE r.message_id = m.message_id AND r.recipient_user_id = $1 AND r.state = 'read'
			  )
		) unread ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS cnt FROM conversation_members m2
			WHERE m2.conversation_id = c.id AND m2.is_active
		) participants ON true
		WHERE ($2::timestamptz IS NULL OR c.last_message_at < $2 OR c.last_message_at IS NULL)
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $3`

	rows, err := db.QueryxContext(ctx, query, userID, cursor, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(
			&s.Conversation.ID, &s.Conversation.Kind, &s.Conversation.Title, &s.Conversation.Description,
			&s.Conversation.IsActive, &s.Conversation.LastMessageID, &s.Conversation.LastMessageAt,
			&s.Conversation.CreatedAt, &s.Conversation.DirectKey, &s.UnreadCount, &s.ParticipantCount,
		); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return out, nil
}

// UnreadCount sums unread messages across every active conversation a user
// belongs to.
func (db *DB) UnreadCount(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id = $1 AND cm.is_active
		WHERE m.deleted_by IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM receipts r
		      WHERE r.message_id = m.message_id AND r.recipient_user_id = $1 AND r.state = 'read'
		  )`

	var count int
	err := db.readReplicaFirst(func(q sqlx.QueryerContext) error {
		return sqlx.GetContext(ctx, q, &count, query, userID)
	})
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return count, nil
}

// MemberRoleOf returns a user's active role in a conversation.
func (db *DB) MemberRoleOf(ctx context.Context, conversationID, userID string) (models.MemberRole, error) {
	var role models.MemberRole
	err := db.GetContext(ctx, &role,
		`SELECT role FROM conversation_members WHERE conversation_id = $1 AND user_id = $2 AND is_active`,
		conversationID, userID)
	if err == sql.ErrNoRows {
		return "", apperrors.New(apperrors.CodeNotFound, "membership not found")
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return role, nil
}

// AddMember adds a user to a conversation with the given role.
func (db *DB) AddMember(ctx context.Context, conversationID, userID string, role models.MemberRole) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, role, is_active, joined_at)
		 VALUES ($1, $2, $3, true, now())
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET is_active = true, role = EXCLUDED.role`,
		conversationID, userID, role)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}

// RemoveMember deactivates a member's row, refusing to remove the sole
// remaining owner of a conversation.
func (db *DB) RemoveMember(ctx context.Context, conversationID, userID string) error {
	return db.withTransaction(func(tx *sqlx.Tx) error {
		var role models.MemberRole
		if err := tx.GetContext(ctx, &role,
			`SELECT role FROM conversation_members WHERE conversation_id = $1 AND user_id = $2 AND is_active`,
			conversationID, userID); err != nil {
			if err == sql.ErrNoRows {
				return apperrors.New(apperrors.CodeNotFound, "membership not found")
			}
			return err
		}

		if role == models.RoleOwner {
			var ownerCount int
			if err := tx.GetContext(ctx, &ownerCount,
				`SELECT COUNT(*) FROM conversation_members WHERE conversation_id = $1 AND role = 'owner' AND is_active`,
				conversationID); err != nil {
				return err
			}
			if ownerCount <= 1 {
				return apperrors.New(apperrors.CodeForbidden, "cannot remove the sole owner of a conversation")
			}
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE conversation_members SET is_active = false WHERE conversation_id = $1 AND user_id = $2`,
			conversationID, userID)
		return err
	})
}

// UpdateMemberRole transitions a member's role. Only an existing owner may
// transfer ownership; the caller is expected to have already checked
// actorID's own role before calling this.
func (db *DB) UpdateMemberRole(ctx context.Context, conversationID, targetUserID string, actorRole, newRole models.MemberRole) error {
	if newRole == models.RoleOwner && actorRole != models.RoleOwner {
		return apperrors.New(apperrors.CodeForbidden, "only the current owner may transfer ownership")
	}
	_, err := db.ExecContext(ctx,
		`UPDATE conversation_members SET role = $1 WHERE conversation_id = $2 AND user_id = $3 AND is_active`,
		newRole, conversationID, targetUserID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}

// SetPinned toggles a member's pin flag for a conversation.
func (db *DB) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE conversation_members SET is_pinned = $1 WHERE conversation_id = $2 AND user_id = $3`,
		pinned, conversationID, userID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}

// SetArchived toggles a member's archive flag for a conversation.
func (db *DB) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE conversation_members SET is_archived = $1 WHERE conversation_id = $2 AND user_id = $3`,
		archived, conversationID, userID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}

// SetConversationActive flips a conversation's is_active flag.
func (db *DB) SetConversationActive(ctx context.Context, conversationID string, active bool) error {
	_, err := db.ExecContext(ctx, `UPDATE conversations SET is_active = $1 WHERE id = $2`, active, conversationID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return nil
}

// SearchConversations finds conversations for userID whose title matches a
// case-insensitive substring.
func (db *DB) SearchConversations(ctx context.Context, userID, query string, limit int) ([]models.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.Conversation
	err := db.SelectContext(ctx, &out, `
		SELECT c.id, c.kind, c.title, c.description, c.is_active, c.last_message_id, c.last_message_at, c.created_at, c.direct_key
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1 AND cm.is_active
		WHERE c.title ILIKE $2
		ORDER BY c.last_message_at DESC NULLS LAST
		LIMIT $3`, userID, fmt.Sprintf("%%%s%%", query), limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal)
	}
	return out, nil
}
