package imap

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/quotedprintable"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // register charset decoders
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailmirror/pkg/models"
)

// Fetcher retrieves message bodies, individual attachment parts and raw
// sources on demand. Every call honors the caller's context deadline; a
// fetch that loses the race is abandoned here, but the command may still
// complete on the wire — callers distinguish slow from dropped by checking
// IsConnected afterwards.
type Fetcher struct {
	reg *Registry
	log *slog.Logger
}

// NewFetcher creates a fetcher
func NewFetcher(reg *Registry, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		reg: reg,
		log: logger.With("component", "fetcher"),
	}
}

// RefetchEmailBody fetches the full message, decodes each text part using
// its declared charset (raw bytes when the charset is absent or
// unrecognized), and returns the best plain-text and HTML representations.
// A nil body with nil error means the message has no textual parts.
func (f *Fetcher) RefetchEmailBody(ctx context.Context, accountID int64, uid uint32, mailboxPath string) (*models.EmailBody, error) {
	type result struct {
		body *models.EmailBody
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		var body *models.EmailBody
		err := f.reg.withConn(accountID, func(c *accountConn) error {
			if err := c.selectMailbox(mailboxPath); err != nil {
				return err
			}

			section := &imap.BodySectionName{Peek: true}
			items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

			ch := make(chan *imap.Message, 1)
			done := make(chan error, 1)
			go func() {
				done <- c.tr.UidFetch(uidSet(uid), items, ch)
			}()

			for msg := range ch {
				reader := msg.GetBody(section)
				if reader == nil {
					continue
				}
				text, html := parseBodyParts(reader, f.log)
				if text != "" || html != "" {
					body = &models.EmailBody{Text: text, HTML: html}
				}
			}
			return <-done
		})
		resCh <- result{body, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DownloadAttachment fetches exactly one part's bytes, decoded per its
// transfer encoding. Caching is the caller's responsibility.
func (f *Fetcher) DownloadAttachment(ctx context.Context, accountID int64, uid uint32, mailboxPath, partNumber string) ([]byte, error) {
	path, err := parsePartNumber(partNumber)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		var data []byte
		err := f.reg.withConn(accountID, func(c *accountConn) error {
			if err := c.selectMailbox(mailboxPath); err != nil {
				return err
			}

			section := &imap.BodySectionName{
				BodyPartName: imap.BodyPartName{Specifier: imap.EntireSpecifier, Path: path},
				Peek:         true,
			}
			items := []imap.FetchItem{imap.FetchUid, imap.FetchBodyStructure, section.FetchItem()}

			ch := make(chan *imap.Message, 1)
			done := make(chan error, 1)
			go func() {
				done <- c.tr.UidFetch(uidSet(uid), items, ch)
			}()

			for msg := range ch {
				reader := msg.GetBody(section)
				if reader == nil {
					continue
				}
				raw, err := io.ReadAll(reader)
				if err != nil {
					return err
				}
				encoding := ""
				if msg.BodyStructure != nil {
					if part := partByPath(msg.BodyStructure, path); part != nil {
						encoding = part.Encoding
					}
				}
				data = decodeTransferEncoding(raw, encoding)
			}
			return <-done
		})
		resCh <- result{data, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		if res.data == nil {
			return nil, ErrNotFound
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchRawSource returns the complete unparsed message source for
// diagnostic or export use. Requires an already-established connection:
// the caller runs EnsureConnected first.
func (f *Fetcher) FetchRawSource(ctx context.Context, accountID int64, uid uint32, mailboxPath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		var data []byte
		err := f.reg.withConn(accountID, func(c *accountConn) error {
			if err := c.selectMailbox(mailboxPath); err != nil {
				return err
			}

			section := &imap.BodySectionName{Peek: true}
			items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

			ch := make(chan *imap.Message, 1)
			done := make(chan error, 1)
			go func() {
				done <- c.tr.UidFetch(uidSet(uid), items, ch)
			}()

			for msg := range ch {
				reader := msg.GetBody(section)
				if reader == nil {
					continue
				}
				raw, err := io.ReadAll(reader)
				if err != nil {
					return err
				}
				data = raw
			}
			return <-done
		})
		resCh <- result{data, err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		if res.data == nil {
			return nil, ErrNotFound
		}
		return res.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseBodyParts walks a message's MIME tree and returns the first
// plain-text and HTML bodies found. Charset decoding happens inside the
// mail reader; unknown charsets fall back to the raw bytes.
func parseBodyParts(r io.Reader, logger *slog.Logger) (text, html string) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Warn("failed to create mail reader", "error", err)
		return "", ""
	}
	if mr == nil {
		return "", ""
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			logger.Warn("failed to read part", "error", err)
			break
		}
		if part == nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/html") && html == "" {
				html = string(body)
			} else if strings.HasPrefix(ct, "text/plain") && text == "" {
				text = string(body)
			}
		}
	}
	return text, html
}

// parsePartNumber converts "1.2" into an IMAP part path
func parsePartNumber(part string) ([]int, error) {
	if part == "" {
		return nil, fmt.Errorf("empty part number")
	}
	segments := strings.Split(part, ".")
	path := make([]int, len(segments))
	for i, seg := range segments {
		n, err := strconv.Atoi(seg)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("malformed part number %q", part)
		}
		path[i] = n
	}
	return path, nil
}

// partByPath resolves a part path against a body structure
func partByPath(bs *imap.BodyStructure, path []int) *imap.BodyStructure {
	cur := bs
	for _, n := range path {
		if len(cur.Parts) == 0 {
			// Single-part message addressed as part 1
			if n == 1 {
				continue
			}
			return nil
		}
		if n > len(cur.Parts) {
			return nil
		}
		cur = cur.Parts[n-1]
	}
	return cur
}

// decodeTransferEncoding undoes base64/quoted-printable transfer encoding
func decodeTransferEncoding(raw []byte, encoding string) []byte {
	switch strings.ToLower(encoding) {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return raw
		}
		return decoded
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return raw
		}
		return decoded
	default:
		return raw
	}
}
