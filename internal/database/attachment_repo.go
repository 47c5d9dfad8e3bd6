package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/mailmirror/pkg/models"
)

// InsertAttachments records the attachment parts discovered in a message's
// body structure. Content stays NULL until fetched on demand. Duplicates
// (same message, same part) are ignored.
func (db *DB) InsertAttachments(ctx context.Context, attachments []*models.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	query := `
		INSERT OR IGNORE INTO attachments (message_id, part, filename, mime_type, encoding, size, mailbox_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	for _, att := range attachments {
		_, err := db.ExecContext(ctx, query,
			att.MessageID,
			att.Part,
			att.Filename,
			att.MIMEType,
			att.Encoding,
			att.Size,
			att.MailboxPath,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
	}
	return nil
}

// AttachmentsForMessage returns all attachment parts of a message
func (db *DB) AttachmentsForMessage(ctx context.Context, messageID string) ([]*models.Attachment, error) {
	var attachments []*models.Attachment
	query := `SELECT * FROM attachments WHERE message_id = ? ORDER BY part`
	err := db.SelectContext(ctx, &attachments, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return attachments, nil
}

// SetAttachmentContent caches fetched attachment bytes. The part number and
// mailbox path stay on the row so the content can be re-fetched if the
// cache is ever dropped.
func (db *DB) SetAttachmentContent(ctx context.Context, messageID, part string, content []byte) error {
	query := `UPDATE attachments SET content = ? WHERE message_id = ? AND part = ?`
	_, err := db.ExecContext(ctx, query, content, messageID, part)
	if err != nil {
		return fmt.Errorf("failed to cache attachment content: %w", err)
	}
	return nil
}
