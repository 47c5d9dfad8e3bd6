package models

import "time"

// Account represents a configured mail account
type Account struct {
	ID         int64     `db:"id"`
	Email      string    `db:"email"`
	Password   string    `db:"password"`    // Encrypted password
	IMAPServer string    `db:"imap_server"` // e.g., imap.gmail.com:993
	IsActive   bool      `db:"is_active"`   // Excluded from sync when false
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
