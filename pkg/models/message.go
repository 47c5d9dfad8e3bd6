package models

import "time"

// Message is the local mirror of one remote message
type Message struct {
	LocalID        string    `db:"id"` // accountID + "_" + uid
	AccountID      int64     `db:"account_id"`
	FolderID       string    `db:"folder_id"`
	UID            uint32    `db:"uid"`        // remote sequence id, unique per mailbox
	MessageID      string    `db:"message_id"` // Message-ID header
	Subject        string    `db:"subject"`
	FromAddr       string    `db:"from_addr"`
	FromName       string    `db:"from_name"`
	ToAddrs        string    `db:"to_addrs"` // comma-joined recipient addresses
	ReceivedAt     time.Time `db:"received_at"`
	Snippet        string    `db:"snippet"`
	BodyText       string    `db:"body_text"`
	BodyHTML       string    `db:"body_html"`
	IsRead         bool      `db:"is_read"`
	IsFlagged      bool      `db:"is_flagged"`
	HasAttachments bool      `db:"has_attachments"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// EmailBody is the decoded textual content of a message
type EmailBody struct {
	Text string
	HTML string
}

// Attachment is one part of a message, addressed by its IMAP part number.
// Part number and mailbox path are kept after the content is cached so the
// part can be re-fetched if the cache is invalidated.
type Attachment struct {
	ID          int64     `db:"id"`
	MessageID   string    `db:"message_id"` // local message id
	Part        string    `db:"part"`       // e.g. "2" or "1.2"
	Filename    string    `db:"filename"`
	MIMEType    string    `db:"mime_type"`
	Encoding    string    `db:"encoding"` // transfer encoding of the raw part
	Size        uint32    `db:"size"`
	MailboxPath string    `db:"mailbox_path"`
	Content     []byte    `db:"content"` // nil until fetched
	CreatedAt   time.Time `db:"created_at"`
}
