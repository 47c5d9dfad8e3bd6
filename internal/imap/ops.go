package imap

import (
	"context"
	"log/slog"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mixelka/mailmirror/internal/sanitize"
)

// Operations translates move/delete requests into remote commands. Its
// contract is strictly "did the remote command succeed": local rows are the
// caller's responsibility, and after a move the caller must re-resolve the
// message's identity since the destination mailbox generally assigns a new
// remote id.
type Operations struct {
	reg  *Registry
	dial Dialer
	log  *slog.Logger
}

// NewOperations creates an operation executor
func NewOperations(reg *Registry, dialTimeout time.Duration, logger *slog.Logger) *Operations {
	return &Operations{
		reg:  reg,
		dial: newTLSDialer(dialTimeout),
		log:  logger.With("component", "mailbox_ops"),
	}
}

// MoveMessage moves one message between mailboxes, preferring the MOVE
// extension and falling back to copy+delete+expunge
func (o *Operations) MoveMessage(ctx context.Context, accountID int64, uid uint32, sourcePath, destPath string) error {
	return o.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.selectMailbox(sourcePath); err != nil {
			return err
		}

		seqset := uidSet(uid)
		if c.tr.SupportMove() {
			if err := c.tr.UidMove(seqset, destPath); err != nil {
				if isMissing(err) {
					return ErrNotFound
				}
				return err
			}
			return nil
		}

		if err := c.tr.UidCopy(seqset, destPath); err != nil {
			if isMissing(err) {
				return ErrNotFound
			}
			return err
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		if err := c.tr.UidStore(seqset, item, flags, nil); err != nil {
			return err
		}
		return expungeUID(c.tr, seqset)
	})
}

// expungeUID purges exactly the given message when the server supports
// UIDPLUS. The plain EXPUNGE fallback also purges any other message in the
// selected mailbox that another client has flagged \Deleted.
func expungeUID(tr transport, seqset *imap.SeqSet) error {
	if tr.SupportUidPlus() {
		return tr.UidExpunge(seqset)
	}
	return tr.Expunge(nil)
}

// DeleteMessage permanently deletes a message remotely. The local store is
// untouched; the caller reconciles it.
func (o *Operations) DeleteMessage(ctx context.Context, accountID int64, uid uint32, mailboxPath string) error {
	return o.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.selectMailbox(mailboxPath); err != nil {
			return err
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.DeletedFlag}
		seqset := uidSet(uid)
		if err := c.tr.UidStore(seqset, item, flags, nil); err != nil {
			if isMissing(err) {
				return ErrNotFound
			}
			return err
		}
		return expungeUID(c.tr, seqset)
	})
}

// TestParams are the connection parameters probed by account setup
type TestParams struct {
	Email    string
	Password string
	Server   string // host:port; resolved from the email domain when empty
}

// TestResult reports a probe outcome with UI-safe error text
type TestResult struct {
	Success bool
	Error   string
}

// TestConnection performs a connect-and-disconnect probe on a throwaway
// session. It never touches an established registry session for the same
// account.
func (o *Operations) TestConnection(ctx context.Context, params TestParams) TestResult {
	server := params.Server
	if server == "" {
		resolved, err := ResolveServer(params.Email)
		if err != nil {
			return TestResult{Error: sanitize.ErrorText(err.Error())}
		}
		server = resolved
	}

	tr, err := o.dial(ctx, server)
	if err != nil {
		return TestResult{Error: sanitize.ErrorText(err.Error())}
	}
	defer closeTransport(tr)

	if err := tr.Login(params.Email, params.Password); err != nil {
		return TestResult{Error: sanitize.ErrorText(err.Error())}
	}
	return TestResult{Success: true}
}
