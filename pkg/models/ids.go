package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Local identifiers embed the account id so rows from different accounts can
// never collide: folders are keyed accountID+"_"+path and messages
// accountID+"_"+uid. Extraction always takes the last underscore-delimited
// segment, since the leading part may itself contain underscores or digits.

// FolderID derives the local folder key for a mailbox path.
func FolderID(accountID int64, path string) string {
	return fmt.Sprintf("%d_%s", accountID, NormalizePath(path))
}

// MessageLocalID derives the local message key for a remote sequence id.
func MessageLocalID(accountID int64, uid uint32) string {
	return fmt.Sprintf("%d_%d", accountID, uid)
}

// UIDFromLocalID recovers the remote sequence id from a local message id.
func UIDFromLocalID(id string) (uint32, error) {
	i := strings.LastIndexByte(id, '_')
	if i < 0 || i == len(id)-1 {
		return 0, fmt.Errorf("malformed message id %q", id)
	}
	uid, err := strconv.ParseUint(id[i+1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return uint32(uid), nil
}

// NormalizePath strips a leading hierarchy separator from a mailbox path.
// Paths are stored and compared in this form; the raw server path is only
// used at the protocol boundary.
func NormalizePath(path string) string {
	return strings.TrimLeft(path, "/.")
}
