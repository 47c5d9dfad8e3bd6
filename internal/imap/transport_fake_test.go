package imap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailmirror/internal/database"
	"github.com/mixelka/mailmirror/pkg/models"
)

// fakeMsg is one scripted message on the fake server
type fakeMsg struct {
	uid      uint32
	subject  string
	from     *imap.Address
	flags    []string
	raw      string // full RFC822 source, empty until "delivered"
	parts    map[string]string // raw part bytes by IMAP part number
	bs       *imap.BodyStructure
	received time.Time
}

// fakeTransport is a scripted in-memory IMAP server side. It records the
// order of commands so tests can assert what reached the wire.
type fakeTransport struct {
	mu        sync.Mutex
	mailboxes []*imap.MailboxInfo
	msgs      map[string][]*fakeMsg
	selected  string

	loginErr  error
	selectErr error
	renameErr error
	deleteErr error
	fetchErr  error

	supportMove    bool
	supportUidPlus bool
	fetchBlock     chan struct{} // when set, UidFetch waits for it

	calls []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(map[string][]*fakeMsg)}
}

func (f *fakeTransport) record(cmd string) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()
}

func (f *fakeTransport) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) addMailbox(name string, attrs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mailboxes = append(f.mailboxes, &imap.MailboxInfo{Name: name, Delimiter: "/", Attributes: attrs})
	if _, ok := f.msgs[name]; !ok {
		f.msgs[name] = nil
	}
}

func (f *fakeTransport) removeMailbox(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.mailboxes[:0]
	for _, mb := range f.mailboxes {
		if mb.Name != name {
			out = append(out, mb)
		}
	}
	f.mailboxes = out
	delete(f.msgs, name)
}

func (f *fakeTransport) addMsg(mailbox string, msg *fakeMsg) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[mailbox] = append(f.msgs[mailbox], msg)
}

func (f *fakeTransport) Login(username, password string) error {
	f.record("login")
	return f.loginErr
}

func (f *fakeTransport) List(ref, name string, ch chan *imap.MailboxInfo) error {
	f.record("list")
	f.mu.Lock()
	boxes := append([]*imap.MailboxInfo(nil), f.mailboxes...)
	f.mu.Unlock()
	for _, mb := range boxes {
		ch <- mb
	}
	close(ch)
	return nil
}

func (f *fakeTransport) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	f.record("select " + name)
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[name]; !ok {
		return nil, errMailboxMissing
	}
	f.selected = name
	return &imap.MailboxStatus{Name: name}, nil
}

func (f *fakeTransport) Create(name string) error {
	f.record("create " + name)
	f.addMailbox(name)
	return nil
}

func (f *fakeTransport) Rename(existingName, newName string) error {
	f.record("rename " + existingName + " " + newName)
	if f.renameErr != nil {
		return f.renameErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mb := range f.mailboxes {
		if mb.Name == existingName {
			mb.Name = newName
			f.msgs[newName] = f.msgs[existingName]
			delete(f.msgs, existingName)
			return nil
		}
	}
	return errMailboxMissing
}

func (f *fakeTransport) Delete(name string) error {
	f.record("delete " + name)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.removeMailbox(name)
	return nil
}

func (f *fakeTransport) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	f.record("uid search")
	f.mu.Lock()
	defer f.mu.Unlock()
	var uids []uint32
	for _, msg := range f.msgs[f.selected] {
		if criteria.Uid == nil || criteria.Uid.Contains(msg.uid) {
			uids = append(uids, msg.uid)
		}
	}
	return uids, nil
}

func (f *fakeTransport) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	f.record("uid fetch")
	if f.fetchBlock != nil {
		<-f.fetchBlock
	}
	if f.fetchErr != nil {
		close(ch)
		return f.fetchErr
	}
	f.mu.Lock()
	msgs := append([]*fakeMsg(nil), f.msgs[f.selected]...)
	f.mu.Unlock()

	for _, m := range msgs {
		if !seqset.Contains(m.uid) {
			continue
		}
		out := &imap.Message{
			Uid:           m.uid,
			Flags:         append([]string(nil), m.flags...),
			BodyStructure: m.bs,
			Envelope: &imap.Envelope{
				Subject:   m.subject,
				Date:      m.received,
				MessageId: "<" + m.subject + "@test>",
			},
		}
		if m.from != nil {
			out.Envelope.From = []*imap.Address{m.from}
		}
		if m.raw != "" || len(m.parts) > 0 {
			out.Body = make(map[*imap.BodySectionName]imap.Literal)
			if m.raw != "" {
				out.Body[&imap.BodySectionName{}] = bytes.NewBufferString(m.raw)
			}
			for number, content := range m.parts {
				path, err := parsePartNumber(number)
				if err != nil {
					continue
				}
				section := &imap.BodySectionName{
					BodyPartName: imap.BodyPartName{Specifier: imap.EntireSpecifier, Path: path},
				}
				out.Body[section] = bytes.NewBufferString(content)
			}
		}
		ch <- out
	}
	close(ch)
	return nil
}

func (f *fakeTransport) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	f.record("uid store")
	if ch != nil {
		close(ch)
	}
	return nil
}

func (f *fakeTransport) UidCopy(seqset *imap.SeqSet, dest string) error {
	f.record("uid copy " + dest)
	return nil
}

func (f *fakeTransport) UidMove(seqset *imap.SeqSet, dest string) error {
	f.record("uid move " + dest)
	return nil
}

func (f *fakeTransport) SupportMove() bool { return f.supportMove }

func (f *fakeTransport) Expunge(ch chan uint32) error {
	f.record("expunge")
	if ch != nil {
		close(ch)
	}
	return nil
}

func (f *fakeTransport) UidExpunge(seqset *imap.SeqSet) error {
	f.record("uid expunge")
	return nil
}

func (f *fakeTransport) SupportUidPlus() bool { return f.supportUidPlus }

func (f *fakeTransport) Noop() error      { return nil }
func (f *fakeTransport) Logout() error    { return nil }
func (f *fakeTransport) Terminate() error { return nil }

var errMailboxMissing = &mailboxMissingError{}

type mailboxMissingError struct{}

func (*mailboxMissingError) Error() string { return "NO mailbox does not exist" }

// rig bundles an in-memory store, a registry wired to a fake transport,
// and one account ready to connect
type rig struct {
	db        *database.DB
	reg       *Registry
	transport *fakeTransport
	accountID int64
}

func newRig(t *testing.T) *rig {
	t.Helper()

	db, err := database.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	account := &models.Account{
		Email:      "user@example.com",
		Password:   "secret",
		IMAPServer: "imap.example.com:993",
		IsActive:   true,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))

	ft := newFakeTransport()
	reg := NewRegistry(db, RegistryConfig{}, testLogger())
	reg.SetDialer(func(ctx context.Context, server string) (transport, error) {
		return ft, nil
	})
	t.Cleanup(reg.Close)

	return &rig{db: db, reg: reg, transport: ft, accountID: account.ID}
}

func (r *rig) connect(t *testing.T) {
	t.Helper()
	require.True(t, r.reg.Connect(context.Background(), r.accountID))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
