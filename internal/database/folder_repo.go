package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/mailmirror/pkg/models"
)

// UpsertFolder inserts a folder row or refreshes its type and delimiter if
// the key already exists
func (db *DB) UpsertFolder(ctx context.Context, folder *models.Folder) error {
	query := `
		INSERT INTO folders (id, account_id, path, type, delimiter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET type = excluded.type, delimiter = excluded.delimiter, updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		folder.ID,
		folder.AccountID,
		folder.Path,
		folder.Type,
		folder.Delimiter,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert folder: %w", err)
	}
	return nil
}

// GetFolder returns a folder by its local key
func (db *DB) GetFolder(ctx context.Context, id string) (*models.Folder, error) {
	var folder models.Folder
	query := `SELECT * FROM folders WHERE id = ?`
	err := db.GetContext(ctx, &folder, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return &folder, nil
}

// ListFolders returns all folders of an account
func (db *DB) ListFolders(ctx context.Context, accountID int64) ([]*models.Folder, error) {
	var folders []*models.Folder
	query := `SELECT * FROM folders WHERE account_id = ? ORDER BY path`
	err := db.SelectContext(ctx, &folders, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// DeleteFoldersNotIn removes folder rows of an account whose id is not in
// keep. Used after a remote LIST to drop mailboxes deleted out of band.
// Folders that still hold mirrored messages are left alone.
func (db *DB) DeleteFoldersNotIn(ctx context.Context, accountID int64, keep []string) error {
	if len(keep) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(keep)-1) + "?"
	query := fmt.Sprintf(`
		DELETE FROM folders WHERE account_id = ? AND id NOT IN (%s)
		AND id NOT IN (SELECT DISTINCT folder_id FROM messages WHERE account_id = ?)
	`, placeholders)

	args := make([]interface{}, 0, len(keep)+2)
	args = append(args, accountID)
	for _, id := range keep {
		args = append(args, id)
	}
	args = append(args, accountID)

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune folders: %w", err)
	}
	return nil
}

// DeleteFolder removes a folder row
func (db *DB) DeleteFolder(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// FolderMessageCount counts locally mirrored messages in a folder
func (db *DB) FolderMessageCount(ctx context.Context, folderID string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE folder_id = ?`, folderID)
	if err != nil {
		return 0, fmt.Errorf("failed to count folder messages: %w", err)
	}
	return count, nil
}

// MigrateFolderID performs the local half of a mailbox rename. The folder
// key is derived from the path, so a rename changes identity: a new row is
// inserted under the new key, every message is re-pointed, and only then is
// the old row deleted. The whole migration runs in one transaction so no
// observer ever sees both keys or a dangling message reference.
func (db *DB) MigrateFolderID(ctx context.Context, old *models.Folder, newID, newPath string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rename migration: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO folders (id, account_id, path, type, delimiter, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, newID, old.AccountID, newPath, old.Type, old.Delimiter, old.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to insert renamed folder: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE messages SET folder_id = ?, updated_at = ? WHERE folder_id = ?`,
		newID, now, old.ID)
	if err != nil {
		return fmt.Errorf("failed to re-point messages: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, old.ID); err != nil {
		return fmt.Errorf("failed to delete old folder row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename migration: %w", err)
	}
	return nil
}
