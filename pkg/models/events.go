package models

// NewMailEvent is published whenever a sync pass finds at least one new
// message in a mailbox. Delivery is at-least-once: duplicates are possible
// after a retry, subscribers deduplicate by message id if they need to.
type NewMailEvent struct {
	AccountID int64
	FolderID  string
	Count     int
}
