package imap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/mixelka/mailmirror/internal/database"
	"github.com/mixelka/mailmirror/pkg/models"
)

// FolderSynchronizer mirrors remote mailbox structure into the local folder
// table and applies create/rename/delete against both sides. Remote is the
// source of truth for existence: the local row only changes after the
// remote command succeeded.
type FolderSynchronizer struct {
	reg *Registry
	db  *database.DB
	log *slog.Logger
}

// NewFolderSynchronizer creates a folder synchronizer
func NewFolderSynchronizer(reg *Registry, db *database.DB, logger *slog.Logger) *FolderSynchronizer {
	return &FolderSynchronizer{
		reg: reg,
		db:  db,
		log: logger.With("component", "folder_sync"),
	}
}

// ListAndSyncFolders lists remote mailboxes, classifies each into a folder
// type, reconciles the local folder table, and returns the reconciled list
// so the caller can locate the inbox.
func (s *FolderSynchronizer) ListAndSyncFolders(ctx context.Context, accountID int64) ([]*models.Folder, error) {
	var infos []*imap.MailboxInfo
	err := s.reg.withConn(accountID, func(c *accountConn) error {
		ch := make(chan *imap.MailboxInfo, 32)
		done := make(chan error, 1)
		go func() {
			done <- c.tr.List("", "*", ch)
		}()
		for mb := range ch {
			infos = append(infos, mb)
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}

	folders := make([]*models.Folder, 0, len(infos))
	keep := make([]string, 0, len(infos))
	for _, mb := range infos {
		if hasAttr(mb.Attributes, imap.NoSelectAttr) {
			continue
		}
		folder := &models.Folder{
			ID:        models.FolderID(accountID, mb.Name),
			AccountID: accountID,
			Path:      models.NormalizePath(mb.Name),
			Type:      ClassifyMailbox(mb.Name, mb.Attributes),
			Delimiter: mb.Delimiter,
		}
		if err := s.db.UpsertFolder(ctx, folder); err != nil {
			return nil, err
		}
		folders = append(folders, folder)
		keep = append(keep, folder.ID)
	}

	if err := s.db.DeleteFoldersNotIn(ctx, accountID, keep); err != nil {
		return nil, err
	}

	s.log.Debug("folders reconciled", "account_id", accountID, "count", len(folders))
	return folders, nil
}

// CreateMailbox creates a mailbox remotely and mirrors it locally once the
// remote command succeeded. Returns the local folder id.
func (s *FolderSynchronizer) CreateMailbox(ctx context.Context, accountID int64, fullPath string) (string, error) {
	err := s.reg.withConn(accountID, func(c *accountConn) error {
		return c.tr.Create(fullPath)
	})
	if err != nil {
		return "", err
	}

	folder := &models.Folder{
		ID:        models.FolderID(accountID, fullPath),
		AccountID: accountID,
		Path:      models.NormalizePath(fullPath),
		Type:      models.FolderOther,
	}
	if err := s.db.UpsertFolder(ctx, folder); err != nil {
		return "", err
	}
	return folder.ID, nil
}

// RenameMailbox renames a mailbox remotely and migrates local identity.
// Protected folders are rejected before any remote call.
func (s *FolderSynchronizer) RenameMailbox(ctx context.Context, accountID int64, oldPath, newPath string) error {
	folder, err := s.db.GetFolder(ctx, models.FolderID(accountID, oldPath))
	if err != nil {
		if err == database.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if folder.Type.Protected() {
		return fmt.Errorf("%w: cannot rename %s folder %q", ErrProtectedFolder, folder.Type, folder.Path)
	}

	err = s.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.tr.Rename(oldPath, newPath); err != nil {
			if isMissing(err) {
				return ErrNotFound
			}
			return err
		}
		// The selected mailbox may just have changed name under us
		c.sess.mu.Lock()
		c.sess.selected = ""
		c.sess.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	newID := models.FolderID(accountID, newPath)
	if err := s.db.MigrateFolderID(ctx, folder, newID, models.NormalizePath(newPath)); err != nil {
		return err
	}

	s.log.Info("mailbox renamed", "account_id", accountID, "old", oldPath, "new", newPath)
	return nil
}

// DeleteMailbox deletes a mailbox remotely and drops the local mirror.
// Rejected for protected folders and for folders that still hold mirrored
// messages, so nothing is lost silently.
func (s *FolderSynchronizer) DeleteMailbox(ctx context.Context, accountID int64, path string) error {
	folder, err := s.db.GetFolder(ctx, models.FolderID(accountID, path))
	if err != nil {
		if err == database.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	if folder.Type.Protected() {
		return fmt.Errorf("%w: cannot delete %s folder %q", ErrProtectedFolder, folder.Type, folder.Path)
	}

	count, err := s.db.FolderMessageCount(ctx, folder.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %q holds %d messages", ErrFolderNotEmpty, folder.Path, count)
	}

	err = s.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.tr.Delete(path); err != nil {
			if isMissing(err) {
				return ErrNotFound
			}
			return err
		}
		c.sess.mu.Lock()
		if c.sess.selected == path {
			c.sess.selected = ""
		}
		c.sess.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.DeleteFolder(ctx, folder.ID)
}

// ClassifyMailbox maps a remote mailbox to exactly one folder type.
// Special-use attributes (RFC 6154) win; well-known names cover servers
// that do not advertise them; everything else is FolderOther.
func ClassifyMailbox(name string, attrs []string) models.FolderType {
	if strings.EqualFold(name, "INBOX") {
		return models.FolderInbox
	}

	for _, attr := range attrs {
		switch attr {
		case imap.SentAttr:
			return models.FolderSent
		case imap.DraftsAttr:
			return models.FolderDrafts
		case imap.TrashAttr:
			return models.FolderTrash
		case imap.JunkAttr:
			return models.FolderJunk
		case imap.ArchiveAttr, imap.AllAttr:
			return models.FolderArchive
		}
	}

	switch strings.ToLower(cleanProviderPrefix(name)) {
	case "sent", "sent items", "sent mail", "sent messages":
		return models.FolderSent
	case "drafts", "draft":
		return models.FolderDrafts
	case "trash", "deleted", "deleted items", "deleted messages", "bin":
		return models.FolderTrash
	case "junk", "spam", "junk e-mail", "bulk mail":
		return models.FolderJunk
	case "archive", "archives", "all mail":
		return models.FolderArchive
	}
	return models.FolderOther
}

// cleanProviderPrefix removes provider-specific prefixes before name matching
func cleanProviderPrefix(name string) string {
	name = strings.TrimPrefix(name, "[Gmail]/")
	name = strings.TrimPrefix(name, "[GoogleMail]/")
	name = strings.TrimPrefix(name, "INBOX.")
	name = strings.TrimPrefix(name, "INBOX/")
	return name
}

func hasAttr(attrs []string, target string) bool {
	for _, attr := range attrs {
		if attr == target {
			return true
		}
	}
	return false
}
