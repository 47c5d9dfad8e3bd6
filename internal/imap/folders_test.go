package imap

import (
	"context"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailmirror/pkg/models"
)

func newFolderSync(r *rig) *FolderSynchronizer {
	return NewFolderSynchronizer(r.reg, r.db, testLogger())
}

func TestListAndSyncFolders(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("INBOX")
	r.transport.addMailbox("Sent", imap.SentAttr)
	r.transport.addMailbox("Trash", imap.TrashAttr)
	r.transport.addMailbox("Projects")
	r.transport.addMailbox("[Gmail]", imap.NoSelectAttr)
	r.connect(t)

	s := newFolderSync(r)
	folders, err := s.ListAndSyncFolders(context.Background(), r.accountID)
	require.NoError(t, err)
	require.Len(t, folders, 4, "non-selectable containers are skipped")

	types := make(map[string]models.FolderType)
	for _, f := range folders {
		types[f.Path] = f.Type
	}
	assert.Equal(t, models.FolderInbox, types["INBOX"])
	assert.Equal(t, models.FolderSent, types["Sent"])
	assert.Equal(t, models.FolderTrash, types["Trash"])
	assert.Equal(t, models.FolderOther, types["Projects"])

	stored, err := r.db.ListFolders(context.Background(), r.accountID)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestListAndSyncFoldersPrunesRemovedMailboxes(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("INBOX")
	r.transport.addMailbox("Old")
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	r.transport.removeMailbox("Old")
	folders, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)
	require.Len(t, folders, 1)

	_, err = r.db.GetFolder(ctx, models.FolderID(r.accountID, "Old"))
	assert.Error(t, err, "mailboxes deleted out of band disappear locally too")
}

func TestCreateMailbox(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	id, err := s.CreateMailbox(ctx, r.accountID, "Receipts")
	require.NoError(t, err)
	assert.Equal(t, models.FolderID(r.accountID, "Receipts"), id)

	folder, err := r.db.GetFolder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.FolderOther, folder.Type)
	assert.Contains(t, r.transport.commands(), "create Receipts")
}

func TestRenameMailboxMigratesLocalIdentity(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("Projects")
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	oldID := models.FolderID(r.accountID, "Projects")
	msg := &models.Message{
		LocalID:   models.MessageLocalID(r.accountID, 7),
		AccountID: r.accountID,
		FolderID:  oldID,
		UID:       7,
		Subject:   "status report",
	}
	_, err = r.db.InsertMessage(ctx, msg)
	require.NoError(t, err)

	require.NoError(t, s.RenameMailbox(ctx, r.accountID, "Projects", "Work"))

	_, err = r.db.GetFolder(ctx, oldID)
	assert.Error(t, err, "old folder key must be gone")

	newID := models.FolderID(r.accountID, "Work")
	folder, err := r.db.GetFolder(ctx, newID)
	require.NoError(t, err)
	assert.Equal(t, "Work", folder.Path)

	moved, err := r.db.GetMessage(ctx, msg.LocalID)
	require.NoError(t, err)
	assert.Equal(t, newID, moved.FolderID, "messages follow the renamed folder")
	assert.Contains(t, r.transport.commands(), "rename Projects Work")
}

func TestRenameMailboxRejectsProtectedBeforeRemoteCall(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("INBOX")
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	before := len(r.transport.commands())
	err = s.RenameMailbox(ctx, r.accountID, "INBOX", "Inbox2")
	require.ErrorIs(t, err, ErrProtectedFolder)
	assert.Equal(t, before, len(r.transport.commands()), "rejection must not reach the wire")
}

func TestRenameMailboxUnknownFolder(t *testing.T) {
	r := newRig(t)
	r.connect(t)

	s := newFolderSync(r)
	err := s.RenameMailbox(context.Background(), r.accountID, "Nope", "Other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMailbox(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("Scratch")
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteMailbox(ctx, r.accountID, "Scratch"))

	_, err = r.db.GetFolder(ctx, models.FolderID(r.accountID, "Scratch"))
	assert.Error(t, err)
	assert.Contains(t, r.transport.commands(), "delete Scratch")
}

func TestDeleteMailboxRejectsProtected(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("Sent", imap.SentAttr)
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	before := len(r.transport.commands())
	err = s.DeleteMailbox(ctx, r.accountID, "Sent")
	require.ErrorIs(t, err, ErrProtectedFolder)
	assert.Equal(t, before, len(r.transport.commands()))
}

func TestDeleteMailboxRejectsNonEmpty(t *testing.T) {
	r := newRig(t)
	r.transport.addMailbox("Keep")
	r.connect(t)

	s := newFolderSync(r)
	ctx := context.Background()
	_, err := s.ListAndSyncFolders(ctx, r.accountID)
	require.NoError(t, err)

	folderID := models.FolderID(r.accountID, "Keep")
	_, err = r.db.InsertMessage(ctx, &models.Message{
		LocalID:   models.MessageLocalID(r.accountID, 1),
		AccountID: r.accountID,
		FolderID:  folderID,
		UID:       1,
	})
	require.NoError(t, err)

	before := len(r.transport.commands())
	err = s.DeleteMailbox(ctx, r.accountID, "Keep")
	require.ErrorIs(t, err, ErrFolderNotEmpty)
	assert.Equal(t, before, len(r.transport.commands()))

	_, err = r.db.GetFolder(ctx, folderID)
	assert.NoError(t, err, "the local mirror survives the rejected delete")
}

func TestClassifyMailbox(t *testing.T) {
	tests := []struct {
		name  string
		attrs []string
		want  models.FolderType
	}{
		{"INBOX", nil, models.FolderInbox},
		{"inbox", nil, models.FolderInbox},
		{"Anything", []string{imap.SentAttr}, models.FolderSent},
		{"Anything", []string{imap.DraftsAttr}, models.FolderDrafts},
		{"Anything", []string{imap.TrashAttr}, models.FolderTrash},
		{"Anything", []string{imap.JunkAttr}, models.FolderJunk},
		{"Anything", []string{imap.ArchiveAttr}, models.FolderArchive},
		{"Anything", []string{imap.AllAttr}, models.FolderArchive},
		{"Sent Items", nil, models.FolderSent},
		{"[Gmail]/Sent Mail", nil, models.FolderSent},
		{"INBOX.Drafts", nil, models.FolderDrafts},
		{"Deleted Items", nil, models.FolderTrash},
		{"Spam", nil, models.FolderJunk},
		{"[Gmail]/All Mail", nil, models.FolderArchive},
		{"Projects/2024", nil, models.FolderOther},
		{"", nil, models.FolderOther},
	}
	for _, tt := range tests {
		got := ClassifyMailbox(tt.name, tt.attrs)
		assert.Equalf(t, tt.want, got, "ClassifyMailbox(%q, %v)", tt.name, tt.attrs)
	}
}

func TestFolderTypeProtected(t *testing.T) {
	for _, ft := range []models.FolderType{
		models.FolderInbox, models.FolderSent, models.FolderDrafts,
		models.FolderTrash, models.FolderJunk, models.FolderArchive,
	} {
		assert.Truef(t, ft.Protected(), "%s must be protected", ft)
	}
	assert.False(t, models.FolderOther.Protected())
}
