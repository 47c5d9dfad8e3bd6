package sync

import (
	"context"
	gosync "sync"
	"time"

	"log/slog"

	"github.com/mixelka/mailmirror/internal/database"
	"github.com/mixelka/mailmirror/internal/imap"
	"github.com/mixelka/mailmirror/pkg/models"
)

// Poller drives periodic sync for every active account. Accounts are
// independent and run concurrently; within one account a tick that finds
// the previous pass still running skips instead of queueing, so sync
// passes never overlap on the same connection.
type Poller struct {
	reg      *imap.Registry
	db       *database.DB
	folders  *imap.FolderSynchronizer
	messages *imap.MessageSynchronizer
	log      *slog.Logger

	interval        time.Duration
	folderSyncEvery int
	watched         map[string]bool

	mu      gosync.Mutex
	busy    map[int64]bool
	running bool
	stopCh  chan struct{}
	wg      gosync.WaitGroup
}

// Config tunes the polling cadence
type Config struct {
	Interval        time.Duration
	FolderSyncEvery int      // refresh the folder list every N ticks
	WatchFolders    []string // extra mailbox paths delta-synced besides the inbox
}

// New creates a poller
func New(reg *imap.Registry, db *database.DB, folders *imap.FolderSynchronizer, messages *imap.MessageSynchronizer, cfg Config, logger *slog.Logger) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	every := cfg.FolderSyncEvery
	if every <= 0 {
		every = 10
	}
	watched := make(map[string]bool, len(cfg.WatchFolders))
	for _, path := range cfg.WatchFolders {
		watched[models.NormalizePath(path)] = true
	}
	return &Poller{
		reg:             reg,
		db:              db,
		folders:         folders,
		messages:        messages,
		log:             logger.With("component", "poller"),
		interval:        interval,
		folderSyncEvery: every,
		watched:         watched,
		busy:            make(map[int64]bool),
		stopCh:          make(chan struct{}),
	}
}

// Start launches one polling goroutine per active account
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	accounts, err := p.db.GetAllActiveAccounts(ctx)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		p.wg.Add(1)
		go p.pollAccount(account.ID)
	}

	p.log.Info("poller started", "accounts", len(accounts), "interval", p.interval)
	return nil
}

// Stop halts all polling goroutines and waits for in-flight passes
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("poller stopped")
}

// SyncAccountNow runs one immediate pass for an account, skipping when a
// periodic pass is already in flight
func (p *Poller) SyncAccountNow(ctx context.Context, accountID int64) {
	if !p.tryAcquire(accountID) {
		p.log.Debug("sync already in progress, skipping", "account_id", accountID)
		return
	}
	defer p.release(accountID)
	p.syncPass(ctx, accountID, 0)
}

// pollAccount runs the polling loop for a single account
func (p *Poller) pollAccount(accountID int64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	tick := 0
	p.tick(accountID, tick)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			tick++
			p.tick(accountID, tick)
		}
	}
}

// tick runs one guarded sync pass
func (p *Poller) tick(accountID int64, tick int) {
	if !p.tryAcquire(accountID) {
		p.log.Debug("previous pass still running, skipping tick", "account_id", accountID)
		return
	}
	defer p.release(accountID)

	ctx, cancel := context.WithTimeout(context.Background(), p.interval*3)
	defer cancel()
	p.syncPass(ctx, accountID, tick)
}

// syncPass connects, reconciles folders when due, and delta-syncs each
// mailbox worth watching. One account's failure never reaches another
// account's loop.
func (p *Poller) syncPass(ctx context.Context, accountID int64, tick int) {
	if !p.reg.EnsureConnected(ctx, accountID) {
		p.log.Debug("account not connected, waiting for next tick", "account_id", accountID)
		return
	}

	var folders []*models.Folder
	var err error
	if tick%p.folderSyncEvery == 0 {
		folders, err = p.folders.ListAndSyncFolders(ctx, accountID)
	} else {
		folders, err = p.db.ListFolders(ctx, accountID)
	}
	if err != nil {
		p.log.Error("folder reconciliation failed", "account_id", accountID, "error", err)
		return
	}

	for _, folder := range folders {
		if !p.shouldSync(folder) {
			continue
		}
		if err := p.messages.SyncNewEmails(ctx, accountID, folder.Path); err != nil {
			p.log.Error("mailbox sync failed", "account_id", accountID, "folder", folder.Path, "error", err)
			// A dropped connection fails every remaining folder too
			if !p.reg.IsConnected(accountID) {
				return
			}
		}
	}

	p.reg.RecordSync(accountID)
}

// shouldSync limits delta sync to the inbox plus explicitly watched
// mailboxes. Remote ids are only unique within one mailbox while local
// message identity is account-scoped, so every extra watched mailbox widens
// the window for cross-mailbox id collisions; the default set is just the
// inbox.
func (p *Poller) shouldSync(folder *models.Folder) bool {
	if folder.Type == models.FolderInbox {
		return true
	}
	return p.watched[folder.Path]
}

func (p *Poller) tryAcquire(accountID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[accountID] {
		return false
	}
	p.busy[accountID] = true
	return true
}

func (p *Poller) release(accountID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, accountID)
}
