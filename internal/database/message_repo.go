package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailmirror/pkg/models"
)

// InsertMessage creates a message row, ignoring duplicates. The returned
// bool reports whether a row was actually inserted; re-running a sync pass
// over already-mirrored mail inserts nothing.
func (db *DB) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	query := `
		INSERT OR IGNORE INTO messages (id, account_id, folder_id, uid, message_id, subject, from_addr, from_name, to_addrs, received_at, snippet, body_text, body_html, is_read, is_flagged, has_attachments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		msg.LocalID,
		msg.AccountID,
		msg.FolderID,
		msg.UID,
		msg.MessageID,
		msg.Subject,
		msg.FromAddr,
		msg.FromName,
		msg.ToAddrs,
		msg.ReceivedAt,
		msg.Snippet,
		msg.BodyText,
		msg.BodyHTML,
		msg.IsRead,
		msg.IsFlagged,
		msg.HasAttachments,
		now,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	msg.CreatedAt = now
	msg.UpdatedAt = now
	return true, nil
}

// GetMessage returns a message by its local id
func (db *DB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// HighestUID recomputes the sync high-water mark for a folder from the
// mirrored rows. Returns 0 for an empty or unknown folder. Never cached:
// rows may have been deleted out of band since the last pass.
func (db *DB) HighestUID(ctx context.Context, folderID string) (uint32, error) {
	var uid sql.NullInt64
	err := db.GetContext(ctx, &uid, `SELECT MAX(uid) FROM messages WHERE folder_id = ?`, folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute high-water mark: %w", err)
	}
	if !uid.Valid {
		return 0, nil
	}
	return uint32(uid.Int64), nil
}

// EmptyBodyUIDs returns the remote ids of messages in a folder whose body
// has not been fetched yet, oldest first, capped at limit
func (db *DB) EmptyBodyUIDs(ctx context.Context, folderID string, limit int) ([]uint32, error) {
	var uids []uint32
	query := `SELECT uid FROM messages WHERE folder_id = ? AND body_text = '' AND body_html = '' ORDER BY uid LIMIT ?`
	err := db.SelectContext(ctx, &uids, query, folderID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list empty-body messages: %w", err)
	}
	return uids, nil
}

// UpdateMessageBody stores fetched body content and the snippet derived
// from it
func (db *DB) UpdateMessageBody(ctx context.Context, id, bodyText, bodyHTML, snippet string) error {
	query := `UPDATE messages SET body_text = ?, body_html = ?, snippet = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, bodyText, bodyHTML, snippet, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update message body: %w", err)
	}
	return nil
}

// SetMessageRead updates the local read mirror of a message
func (db *DB) SetMessageRead(ctx context.Context, id string, read bool) error {
	query := `UPDATE messages SET is_read = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, read, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set message read: %w", err)
	}
	return nil
}

// UpdateMessageLocation re-keys a message after a cross-mailbox move. The
// move is an identity-preserving update of the same row (new id, uid and
// folder reference), not a delete+insert, so references held by other
// subsystems survive.
func (db *DB) UpdateMessageLocation(ctx context.Context, oldID, newID, newFolderID string, newUID uint32) error {
	query := `UPDATE messages SET id = ?, folder_id = ?, uid = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, newID, newFolderID, newUID, time.Now(), oldID)
	if err != nil {
		return fmt.Errorf("failed to update message location: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	// Attachment rows follow via ON UPDATE CASCADE
	return nil
}

// DeleteMessage removes a message row and, via cascade, its attachments
func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
