package imap

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/mixelka/mailmirror/internal/database"
	"github.com/mixelka/mailmirror/internal/snippet"
	"github.com/mixelka/mailmirror/pkg/models"
)

// MessageSynchronizer performs delta sync of new messages per mailbox. A
// sync pass fetches envelopes only; bodies are repaired opportunistically
// in a second pass over the same serialized session.
type MessageSynchronizer struct {
	reg *Registry
	db  *database.DB
	log *slog.Logger

	// BodyRepairLimit caps how many empty bodies one pass re-fetches
	BodyRepairLimit int
}

// NewMessageSynchronizer creates a message synchronizer
func NewMessageSynchronizer(reg *Registry, db *database.DB, logger *slog.Logger) *MessageSynchronizer {
	return &MessageSynchronizer{
		reg:             reg,
		db:              db,
		log:             logger.With("component", "message_sync"),
		BodyRepairLimit: 50,
	}
}

// SyncNewEmails mirrors messages above the folder's high-water mark into
// the local store and publishes one new-mail event with the total count.
// The mark is recomputed from local rows every pass, so running this twice
// with no new remote mail is a no-op — and a row deleted locally while the
// message still exists remotely is mirrored again (remote is
// authoritative).
func (s *MessageSynchronizer) SyncNewEmails(ctx context.Context, accountID int64, mailboxPath string) error {
	folderID := models.FolderID(accountID, mailboxPath)
	folder, err := s.db.GetFolder(ctx, folderID)
	if err != nil {
		if err == database.ErrNotFound {
			return fmt.Errorf("folder %q not mirrored yet: %w", mailboxPath, ErrNotFound)
		}
		return err
	}

	mark, err := s.db.HighestUID(ctx, folderID)
	if err != nil {
		return err
	}

	inserted := 0
	err = s.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.selectMailbox(mailboxPath); err != nil {
			return err
		}

		uids, err := searchAbove(c.tr, mark)
		if err != nil {
			return err
		}

		if len(uids) > 0 {
			n, err := s.mirrorEnvelopes(ctx, c, folder, uids, mailboxPath)
			if err != nil {
				return err
			}
			inserted = n
		}

		// Second pass: repair bodies left empty by a prior partial failure
		return s.repairBodies(ctx, c, folderID)
	})
	if err != nil {
		return err
	}

	if inserted > 0 {
		s.log.Info("new messages mirrored", "account_id", accountID, "folder", mailboxPath, "count", inserted)
		s.reg.publishNewMail(models.NewMailEvent{
			AccountID: accountID,
			FolderID:  folderID,
			Count:     inserted,
		})
	}
	return nil
}

// searchAbove returns the remote ids greater than mark, ascending
func searchAbove(tr transport, mark uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	seqset := new(imap.SeqSet)
	seqset.AddRange(mark+1, 0) // 0 means * (all)
	criteria.Uid = seqset

	uids, err := tr.UidSearch(criteria)
	if err != nil {
		return nil, err
	}
	// Some servers answer a UID range search with the nearest existing
	// message even when it is below the requested range
	out := uids[:0]
	for _, uid := range uids {
		if uid > mark {
			out = append(out, uid)
		}
	}
	return out, nil
}

// mirrorEnvelopes fetches envelope metadata for the given uids and inserts
// one local row per message not yet mirrored. Bodies are left empty on
// purpose: sync passes stay cheap and the repair pass fills them in.
func (s *MessageSynchronizer) mirrorEnvelopes(ctx context.Context, c *accountConn, folder *models.Folder, uids []uint32, mailboxPath string) (int, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchBodyStructure}

	ch := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.tr.UidFetch(seqset, items, ch)
	}()

	inserted := 0
	var fetchErr error
	for msg := range ch {
		row, parts := s.rowFromEnvelope(folder, msg, mailboxPath)
		ok, err := s.db.InsertMessage(ctx, row)
		if err != nil {
			fetchErr = err
			continue
		}
		if !ok {
			// Either this message is already mirrored, or another synced
			// mailbox holds the same remote id and claimed the
			// account-scoped key first. The second case cannot be stored
			// under this id scheme, so make it visible instead of silent.
			if existing, err := s.db.GetMessage(ctx, row.LocalID); err == nil && existing.FolderID != folder.ID {
				s.log.Warn("remote id collision across mailboxes, message not mirrored",
					"account_id", folder.AccountID,
					"uid", msg.Uid,
					"mailbox", mailboxPath,
					"mirrored_in", existing.FolderID)
			}
			continue
		}
		inserted++
		if err := s.db.InsertAttachments(ctx, parts); err != nil {
			fetchErr = err
		}
	}
	if err := <-done; err != nil {
		return inserted, err
	}
	return inserted, fetchErr
}

// rowFromEnvelope converts fetched metadata into a local row plus its
// attachment part rows
func (s *MessageSynchronizer) rowFromEnvelope(folder *models.Folder, msg *imap.Message, mailboxPath string) (*models.Message, []*models.Attachment) {
	row := &models.Message{
		LocalID:   models.MessageLocalID(folder.AccountID, msg.Uid),
		AccountID: folder.AccountID,
		FolderID:  folder.ID,
		UID:       msg.Uid,
	}

	if msg.Envelope != nil {
		row.Subject = msg.Envelope.Subject
		row.MessageID = msg.Envelope.MessageId
		row.ReceivedAt = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			row.FromAddr = msg.Envelope.From[0].Address()
			row.FromName = msg.Envelope.From[0].PersonalName
		}
		addrs := make([]string, 0, len(msg.Envelope.To))
		for _, to := range msg.Envelope.To {
			addrs = append(addrs, to.Address())
		}
		row.ToAddrs = strings.Join(addrs, ", ")
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			row.IsRead = true
		case imap.FlaggedFlag:
			row.IsFlagged = true
		}
	}

	// No body yet: the snippet starts from the subject and is recomputed
	// once the body arrives
	row.Snippet = snippet.Derive("", "", row.Subject)

	var parts []*models.Attachment
	if msg.BodyStructure != nil {
		for _, p := range collectAttachmentParts(msg.BodyStructure, nil) {
			parts = append(parts, &models.Attachment{
				MessageID:   row.LocalID,
				Part:        p.part,
				Filename:    p.filename,
				MIMEType:    p.mimeType,
				Encoding:    p.encoding,
				Size:        p.size,
				MailboxPath: mailboxPath,
			})
		}
	}
	row.HasAttachments = len(parts) > 0
	return row, parts
}

// repairBodies re-fetches bodies for locally-known messages in the
// selected mailbox whose body is still empty
func (s *MessageSynchronizer) repairBodies(ctx context.Context, c *accountConn, folderID string) error {
	limit := s.BodyRepairLimit
	if limit <= 0 {
		limit = 50
	}
	uids, err := s.db.EmptyBodyUIDs(ctx, folderID, limit)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.tr.UidFetch(seqset, items, ch)
	}()

	for msg := range ch {
		reader := msg.GetBody(section)
		if reader == nil {
			continue
		}
		text, html := parseBodyParts(reader, s.log)
		if text == "" && html == "" {
			continue
		}
		id := models.MessageLocalID(c.sess.accountID, msg.Uid)
		row, err := s.db.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		sn := snippet.Derive(text, html, row.Subject)
		if err := s.db.UpdateMessageBody(ctx, id, text, html, sn); err != nil {
			s.log.Warn("failed to store repaired body", "id", id, "error", err)
		}
	}
	return <-done
}

// MarkAsRead mirrors a read flag to the remote mailbox. The local row is
// the caller's to update; remote mirroring is best-effort.
func (s *MessageSynchronizer) MarkAsRead(ctx context.Context, accountID int64, uid uint32, mailboxPath string) error {
	return s.storeFlag(accountID, mailboxPath, uidSet(uid), imap.AddFlags, imap.SeenFlag)
}

// MarkAsUnread removes the read flag on the remote mailbox
func (s *MessageSynchronizer) MarkAsUnread(ctx context.Context, accountID int64, uid uint32, mailboxPath string) error {
	return s.storeFlag(accountID, mailboxPath, uidSet(uid), imap.RemoveFlags, imap.SeenFlag)
}

// MarkAllRead marks every message in a mailbox as read remotely
func (s *MessageSynchronizer) MarkAllRead(ctx context.Context, accountID int64, mailboxPath string) error {
	all := new(imap.SeqSet)
	all.AddRange(1, 0)
	return s.storeFlag(accountID, mailboxPath, all, imap.AddFlags, imap.SeenFlag)
}

func (s *MessageSynchronizer) storeFlag(accountID int64, mailboxPath string, seqset *imap.SeqSet, op imap.FlagsOp, flag string) error {
	return s.reg.withConn(accountID, func(c *accountConn) error {
		if err := c.selectMailbox(mailboxPath); err != nil {
			return err
		}
		item := imap.FormatFlagsOp(op, true)
		flags := []interface{}{flag}
		if err := c.tr.UidStore(seqset, item, flags, nil); err != nil {
			if isMissing(err) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
}

func uidSet(uid uint32) *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	return seqset
}

// attachmentPart describes one non-textual part found in a body structure
type attachmentPart struct {
	part     string
	filename string
	mimeType string
	encoding string
	size     uint32
}

// collectAttachmentParts walks a BODYSTRUCTURE and returns the parts that
// look like attachments, with their IMAP part numbers
func collectAttachmentParts(bs *imap.BodyStructure, path []int) []attachmentPart {
	if strings.EqualFold(bs.MIMEType, "multipart") {
		var parts []attachmentPart
		for i, child := range bs.Parts {
			childPath := append(append([]int(nil), path...), i+1)
			parts = append(parts, collectAttachmentParts(child, childPath)...)
		}
		return parts
	}

	filename := bs.DispositionParams["filename"]
	if filename == "" {
		filename = bs.Params["name"]
	}
	isAttachment := strings.EqualFold(bs.Disposition, "attachment") ||
		(filename != "" && !strings.EqualFold(bs.MIMEType, "text"))
	if !isAttachment {
		return nil
	}

	if len(path) == 0 {
		path = []int{1} // single-part message: the whole body is part 1
	}
	segments := make([]string, len(path))
	for i, n := range path {
		segments[i] = strconv.Itoa(n)
	}
	return []attachmentPart{{
		part:     strings.Join(segments, "."),
		filename: filename,
		mimeType: strings.ToLower(bs.MIMEType + "/" + bs.MIMESubType),
		encoding: bs.Encoding,
		size:     bs.Size,
	}}
}
