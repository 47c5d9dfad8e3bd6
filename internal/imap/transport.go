package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	uidplus "github.com/emersion/go-imap-uidplus"
)

// transport is the slice of the IMAP protocol this engine issues. The live
// implementation wraps emersion's client; tests substitute a scripted fake.
type transport interface {
	Login(username, password string) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Create(name string) error
	Rename(existingName, newName string) error
	Delete(name string) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	UidMove(seqset *imap.SeqSet, dest string) error
	SupportMove() bool
	Expunge(ch chan uint32) error
	UidExpunge(seqset *imap.SeqSet) error
	SupportUidPlus() bool
	Noop() error
	Logout() error
	Terminate() error
}

// Dialer opens a transport to an IMAP server address (host:port). Login is
// the caller's job so authentication failures can be classified separately
// from network ones.
type Dialer func(ctx context.Context, server string) (transport, error)

type clientTransport struct {
	*client.Client
	uidplus *uidplus.Client
}

func (t clientTransport) SupportMove() bool {
	ok, err := t.Support("MOVE")
	return err == nil && ok
}

func (t clientTransport) SupportUidPlus() bool {
	ok, err := t.uidplus.SupportUidPlus()
	return err == nil && ok
}

func (t clientTransport) UidExpunge(seqset *imap.SeqSet) error {
	return t.uidplus.UidExpunge(seqset, nil)
}

// newTLSDialer returns the production dialer: implicit TLS with a dial
// timeout, as virtually every provider expects on port 993. The context
// participates, so a cancelled connect aborts an in-flight dial.
func newTLSDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, server string) (transport, error) {
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
		conn, err := dialer.DialContext(ctx, "tcp", server)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}

		imapClient, err := client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		return clientTransport{imapClient, uidplus.NewClient(imapClient)}, nil
	}
}
