package imap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailmirror/internal/sanitize"
	"github.com/mixelka/mailmirror/pkg/models"
)

// AccountSource loads account rows; satisfied by the database layer.
// Accounts are re-read on every connect so credential changes take effect
// without restarting the process.
type AccountSource interface {
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
}

// RegistryConfig tunes connection handling
type RegistryConfig struct {
	DialTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Registry owns the account→connection map. It is constructed explicitly
// and torn down with Close; nothing here is package-level state. All other
// components observe connection state through IsConnected/IsReconnecting
// and issue commands through withConn, which serializes everything sent
// over one account's wire.
type Registry struct {
	cfg      RegistryConfig
	accounts AccountSource
	dial     Dialer
	backoff  *Backoff
	log      *slog.Logger

	decryptFunc func(string) string

	mu       sync.RWMutex
	sessions map[int64]*session

	subMu  sync.Mutex
	subs   []chan models.NewMailEvent
	closed bool
}

// session is the per-account connection state. cmdMu serializes wire
// commands: a body fetch, a flag update and a delta sync for the same
// account never interleave. mu guards the state fields and is never held
// across a network round-trip.
type session struct {
	accountID int64

	cmdMu sync.Mutex

	mu         sync.Mutex
	state      ConnState
	tr         transport
	selected   string
	authFailed bool
	lastErr    string
	lastSync   time.Time
	waiters    []chan struct{}
}

// NewRegistry creates a connection registry
func NewRegistry(accounts AccountSource, cfg RegistryConfig, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		accounts: accounts,
		dial:     newTLSDialer(cfg.DialTimeout),
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		log:      logger.With("component", "imap_registry"),
		sessions: make(map[int64]*session),
	}
}

// SetDecryptFunc sets the credential decryption function
func (r *Registry) SetDecryptFunc(fn func(string) string) {
	r.decryptFunc = fn
}

// SetDialer replaces the transport dialer, used by tests
func (r *Registry) SetDialer(dial Dialer) {
	r.dial = dial
}

func (r *Registry) session(accountID int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[accountID]
	if !ok {
		s = &session{accountID: accountID, state: StateDisconnected}
		r.sessions[accountID] = s
	}
	return s
}

// Connect establishes the account's session. Valid from disconnected or
// error; concurrent callers for the same account coalesce onto a single
// dial. Returns whether the account ended up connected.
func (r *Registry) Connect(ctx context.Context, accountID int64) bool {
	s := r.session(accountID)

	for {
		s.mu.Lock()
		switch s.state {
		case StateConnected:
			s.mu.Unlock()
			return true

		case StateConnecting, StateReconnecting:
			// Another caller is already dialing; wait for it and re-check.
			done := make(chan struct{})
			s.waiters = append(s.waiters, done)
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return false
			}

		default: // StateDisconnected, StateError
			if s.state == StateError {
				s.state = StateReconnecting
			} else {
				s.state = StateConnecting
			}
			s.mu.Unlock()
			return r.establish(ctx, s)
		}
	}
}

// establish performs the dial+login for a session already marked
// connecting/reconnecting
func (r *Registry) establish(ctx context.Context, s *session) bool {
	account, err := r.accounts.GetAccountByID(ctx, s.accountID)
	if err != nil {
		r.finishConnect(s, nil, err, false)
		return false
	}

	password := account.Password
	if r.decryptFunc != nil {
		password = r.decryptFunc(password)
	}

	r.log.Info("connecting to IMAP server", "account_id", s.accountID, "server", account.IMAPServer)

	tr, err := r.dial(ctx, account.IMAPServer)
	if err != nil {
		r.backoff.Fail(s.accountID)
		r.finishConnect(s, nil, err, false)
		return false
	}

	if err := tr.Login(account.Email, password); err != nil {
		_ = tr.Logout()
		auth := isAuthFailure(err)
		if auth {
			err = fmt.Errorf("%w: %v", ErrAuthentication, err)
			r.log.Warn("authentication failed, not retrying until credentials change", "account_id", s.accountID)
		}
		r.backoff.Fail(s.accountID)
		r.finishConnect(s, nil, err, auth)
		return false
	}

	r.backoff.Reset(s.accountID)
	r.finishConnect(s, tr, nil, false)
	r.log.Info("connected to IMAP server", "account_id", s.accountID)
	return true
}

// finishConnect records the outcome of a connect attempt and wakes waiters
func (r *Registry) finishConnect(s *session, tr transport, err error, authFailed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateError
		s.lastErr = sanitize.ErrorText(err.Error())
		s.authFailed = authFailed
		s.tr = nil
	} else {
		s.state = StateConnected
		s.lastErr = ""
		s.authFailed = false
		s.tr = tr
		s.selected = ""
	}
	for _, w := range s.waiters {
		close(w)
	}
	s.waiters = nil
}

// EnsureConnected is the cheap pre-flight used before every command. When
// the account is already connected it returns immediately; when a
// reconnect is in flight it skips rather than pile on; auth failures and
// backoff windows suppress the attempt.
func (r *Registry) EnsureConnected(ctx context.Context, accountID int64) bool {
	s := r.session(accountID)

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return true
	case StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return false
	}
	if s.authFailed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	if !r.backoff.Ready(accountID) {
		return false
	}
	return r.Connect(ctx, accountID)
}

// DisconnectAccount tears down the account's connection. Best-effort: it
// never fails, and a hung logout is force-terminated in the background.
func (r *Registry) DisconnectAccount(accountID int64) {
	r.mu.RLock()
	s, ok := r.sessions[accountID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.selected = ""
	s.state = StateDisconnected
	s.authFailed = false
	s.mu.Unlock()

	if tr != nil {
		go closeTransport(tr)
	}
}

// DisconnectAll tears down every connection
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.DisconnectAccount(id)
	}
}

// closeTransport logs out with a short grace period, then force-closes
func closeTransport(tr transport) {
	done := make(chan struct{})
	go func() {
		_ = tr.Logout()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = tr.Terminate()
	}
}

// IsConnected reports whether the account has a live session. Pure state
// query: never blocks, never touches the network.
func (r *Registry) IsConnected(accountID int64) bool {
	r.mu.RLock()
	s, ok := r.sessions[accountID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// IsReconnecting reports whether a reconnect is currently in flight
func (r *Registry) IsReconnecting(accountID int64) bool {
	r.mu.RLock()
	s, ok := r.sessions[accountID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReconnecting
}

// withConn runs fn against the account's transport while holding the
// session's command lock. A transport-level failure flips the session to
// error state so the next tick reconnects.
func (r *Registry) withConn(accountID int64, fn func(c *accountConn) error) error {
	r.mu.RLock()
	s, ok := r.sessions[accountID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	tr := s.tr
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || tr == nil {
		return ErrNotConnected
	}

	err := fn(&accountConn{tr: tr, sess: s})
	if err != nil && isTransient(err) {
		r.markDropped(s, err)
	}
	return err
}

// markDropped transitions a session to error after a mid-command drop
func (r *Registry) markDropped(s *session, err error) {
	s.mu.Lock()
	tr := s.tr
	s.tr = nil
	s.selected = ""
	s.state = StateError
	s.lastErr = sanitize.ErrorText(err.Error())
	s.mu.Unlock()

	r.log.Warn("connection dropped", "account_id", s.accountID, "error", err)
	if tr != nil {
		go closeTransport(tr)
	}
}

// RecordSync stamps a completed sync pass for the status surface
func (r *Registry) RecordSync(accountID int64) {
	s := r.session(accountID)
	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()
}

// Subscribe registers a new-mail observer. Multiple consumers can
// subscribe independently; each gets its own buffered channel. Events for
// a slow consumer are dropped with a warning rather than blocking sync.
// After Close the returned channel is already closed, so a late
// subscriber's receive loop ends instead of blocking forever.
func (r *Registry) Subscribe() <-chan models.NewMailEvent {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	ch := make(chan models.NewMailEvent, 64)
	if r.closed {
		close(ch)
		return ch
	}
	r.subs = append(r.subs, ch)
	return ch
}

// publishNewMail delivers an event to every subscriber
func (r *Registry) publishNewMail(ev models.NewMailEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.log.Warn("new-mail subscriber too slow, dropping event",
				"account_id", ev.AccountID, "folder_id", ev.FolderID, "count", ev.Count)
		}
	}
}

// Close tears down all connections and closes subscriber channels
func (r *Registry) Close() {
	r.DisconnectAll()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
}

// accountConn is the view of a session handed to command callbacks. It
// tracks the currently selected mailbox so consecutive commands against
// the same mailbox skip the redundant SELECT.
type accountConn struct {
	tr   transport
	sess *session
}

func (c *accountConn) selectMailbox(path string) error {
	c.sess.mu.Lock()
	already := c.sess.selected == path
	c.sess.mu.Unlock()
	if already {
		return nil
	}

	if _, err := c.tr.Select(path, false); err != nil {
		c.sess.mu.Lock()
		c.sess.selected = ""
		c.sess.mu.Unlock()
		if isMissing(err) {
			return ErrNotFound
		}
		return err
	}

	c.sess.mu.Lock()
	c.sess.selected = path
	c.sess.mu.Unlock()
	return nil
}
