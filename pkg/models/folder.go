package models

import "time"

// FolderType classifies a mirrored mailbox into one of the standard roles.
// Every remote mailbox maps to exactly one type; FolderOther is the default
// for anything without a recognized role.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderJunk    FolderType = "junk"
	FolderArchive FolderType = "archive"
	FolderOther   FolderType = "other"
)

// Protected reports whether folders of this type may not be renamed or
// deleted by the user.
func (t FolderType) Protected() bool {
	return t != FolderOther
}

// Folder is the local mirror of one remote mailbox
type Folder struct {
	ID        string     `db:"id"` // accountID + "_" + path
	AccountID int64      `db:"account_id"`
	Path      string     `db:"path"` // remote mailbox path, leading separator stripped
	Type      FolderType `db:"type"`
	Delimiter string     `db:"delimiter"` // hierarchy delimiter reported by the server
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}
