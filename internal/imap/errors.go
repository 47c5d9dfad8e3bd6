package imap

import (
	"errors"
	"io"
	"net"
	"strings"
)

// Failure taxonomy. Connection-level failures surface as registry state for
// the status layer; operation-level failures are returned to the immediate
// caller, who decides whether to fall back to a local-only mutation.
var (
	// ErrAuthentication is terminal until credentials change; the engine
	// does not retry it automatically.
	ErrAuthentication = errors.New("authentication failed")
	// ErrNotConnected means the account has no usable session; the next
	// periodic tick retries.
	ErrNotConnected = errors.New("not connected")
	// ErrNotFound means the referenced mailbox or message no longer exists
	// remotely; fails the operation without touching connection state.
	ErrNotFound = errors.New("mailbox or message not found")
	// ErrProtectedFolder rejects rename/delete of a standard-role folder.
	ErrProtectedFolder = errors.New("protected folder")
	// ErrFolderNotEmpty rejects deleting a mailbox that still has mirrored
	// messages; the caller must empty it first.
	ErrFolderNotEmpty = errors.New("folder still contains messages")
)

// isAuthFailure classifies a login error. IMAP servers are not consistent
// here, so this is a best-effort match on the response text.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authenticationfailed") ||
		strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "invalid credentials") ||
		strings.Contains(msg, "login failed")
}

// isTransient reports whether an error looks like a dropped or unusable
// connection rather than a command-level failure
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection")
}

// isMissing reports whether a command failed because the mailbox or message
// does not exist on the server
func isMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonexistent") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no such mailbox") ||
		strings.Contains(msg, "unknown mailbox")
}
