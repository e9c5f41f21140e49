package sync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkdb/aerion-sync/internal/account"
	"github.com/hkdb/aerion-sync/internal/logging"
)

// NewMailInfo reports that an account picked up new messages during a
// scheduled sync pass.
type NewMailInfo struct {
	AccountKey  string
	AccountName string
	Count       int
}

// NewMailCallback is called when new mail arrives.
type NewMailCallback func(info NewMailInfo)

// SyncCompletedCallback is called when an account's sync pass finishes,
// successfully or not.
type SyncCompletedCallback func(accountKey string, err error)

const defaultCheckInterval = 1 * time.Minute

// Scheduler runs each configured account's Engine on its own interval,
// independent of the others, and fans IDLE-triggered wakeups and manual
// "sync now" requests through the same per-account guard.
type Scheduler struct {
	engines         map[string]*Engine
	accounts        []account.Account
	defaultInterval time.Duration
	log             zerolog.Logger

	newMailCallback       NewMailCallback
	syncCompletedCallback SyncCompletedCallback
	isConnected           func() bool

	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       bool
	runningMu     sync.Mutex
	checkInterval time.Duration

	syncing   map[string]bool
	syncingMu sync.Mutex

	syncCancels  map[string]context.CancelFunc
	syncCancelMu sync.Mutex

	lastSync   map[string]time.Time
	lastSyncMu sync.Mutex
}

// NewScheduler builds a scheduler over one Engine per account, keyed by
// account.Account.Key. defaultInterval is used for any account whose
// SyncInterval is unset.
func NewScheduler(engines map[string]*Engine, accounts []account.Account, defaultInterval time.Duration) *Scheduler {
	return &Scheduler{
		engines:         engines,
		accounts:        accounts,
		defaultInterval: defaultInterval,
		log:             logging.WithComponent("sync-scheduler"),
		checkInterval:   defaultCheckInterval,
		syncing:         make(map[string]bool),
		syncCancels:     make(map[string]context.CancelFunc),
		lastSync:        make(map[string]time.Time),
	}
}

// SetNewMailCallback sets the callback for new mail notifications.
func (s *Scheduler) SetNewMailCallback(callback NewMailCallback) {
	s.newMailCallback = callback
}

// SetSyncCompletedCallback sets the callback fired after each sync pass.
func (s *Scheduler) SetSyncCompletedCallback(callback SyncCompletedCallback) {
	s.syncCompletedCallback = callback
}

// SetConnectivityCheck sets a function to check network connectivity. When
// set, the scheduler skips sync ticks while offline.
func (s *Scheduler) SetConnectivityCheck(check func() bool) {
	s.isConnected = check
}

// Start begins the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		s.log.Warn().Msg("scheduler already running")
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.log.Info().Int("accounts", len(s.accounts)).Msg("sync scheduler started")
}

// Stop halts the scheduling loop and waits for in-flight syncs to return.
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.log.Info().Msg("sync scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	select {
	case <-time.After(10 * time.Second):
		s.syncDueAccounts()
	case <-s.ctx.Done():
		return
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.syncDueAccounts()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) syncDueAccounts() {
	if s.isConnected != nil && !s.isConnected() {
		s.log.Debug().Msg("skipping sync tick, offline")
		return
	}

	for _, acc := range s.accounts {
		if !acc.Enabled {
			continue
		}
		if engine, ok := s.engines[acc.Key]; ok && engine.IsAuthSuspended() {
			s.log.Debug().Str("account", acc.Name).Msg("skipping sync, account suspended after authentication failure")
			continue
		}
		if !s.isSyncDue(acc) {
			continue
		}
		s.log.Debug().Str("account", acc.Name).Msg("account due for sync")
		go s.syncAccount(acc)
	}
}

func (s *Scheduler) isSyncDue(acc account.Account) bool {
	interval := s.defaultInterval
	if acc.SyncInterval > 0 {
		interval = time.Duration(acc.SyncInterval) * time.Second
	}

	s.lastSyncMu.Lock()
	last, ok := s.lastSync[acc.Key]
	s.lastSyncMu.Unlock()
	if !ok {
		return true
	}
	return time.Since(last) >= interval
}

// syncAccount runs one account's Engine.RunOnce, guarding against a
// concurrent sync of the same account and enforcing a ceiling so a hung
// connection can't block that account's scheduling forever.
func (s *Scheduler) syncAccount(acc account.Account) {
	s.syncingMu.Lock()
	if s.syncing[acc.Key] {
		s.syncingMu.Unlock()
		s.log.Debug().Str("account", acc.Name).Msg("sync already in progress, skipping")
		return
	}
	s.syncing[acc.Key] = true
	s.syncingMu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Minute)
	s.syncCancelMu.Lock()
	s.syncCancels[acc.Key] = cancel
	s.syncCancelMu.Unlock()

	defer func() {
		cancel()
		s.syncCancelMu.Lock()
		delete(s.syncCancels, acc.Key)
		s.syncCancelMu.Unlock()

		s.syncingMu.Lock()
		delete(s.syncing, acc.Key)
		s.syncingMu.Unlock()

		s.lastSyncMu.Lock()
		s.lastSync[acc.Key] = time.Now()
		s.lastSyncMu.Unlock()
	}()

	engine, ok := s.engines[acc.Key]
	if !ok {
		s.log.Error().Str("account", acc.Name).Msg("no engine configured for account")
		return
	}

	before := s.totalMessages(engine)
	s.log.Info().Str("account", acc.Name).Msg("starting scheduled sync")

	err := engine.RunOnce(ctx)
	if err != nil && ctx.Err() != nil {
		s.log.Info().Str("account", acc.Name).Msg("sync cancelled")
	} else if err != nil {
		s.log.Error().Err(err).Str("account", acc.Name).Msg("sync failed")
	}

	if err == nil {
		after := s.totalMessages(engine)
		if after > before && s.newMailCallback != nil {
			s.newMailCallback(NewMailInfo{AccountKey: acc.Key, AccountName: acc.Name, Count: after - before})
		}
	}

	if s.syncCompletedCallback != nil {
		s.syncCompletedCallback(acc.Key, err)
	}

	s.log.Debug().Str("account", acc.Name).Msg("scheduled sync finished")
}

func (s *Scheduler) totalMessages(engine *Engine) int {
	folders, err := engine.folderStore.List()
	if err != nil {
		return 0
	}
	total := 0
	for _, f := range folders {
		total += f.TotalMessages
	}
	return total
}

// TriggerSync manually triggers a sync for one account (non-blocking).
func (s *Scheduler) TriggerSync(accountKey string) {
	for _, acc := range s.accounts {
		if acc.Key == accountKey {
			go s.syncAccount(acc)
			return
		}
	}
	s.log.Warn().Str("account", accountKey).Msg("trigger sync: unknown account")
}

// TriggerSyncAll manually triggers a sync for every enabled account.
func (s *Scheduler) TriggerSyncAll() {
	for _, acc := range s.accounts {
		if acc.Enabled {
			go s.syncAccount(acc)
		}
	}
}

// CancelSync cancels any running sync for the given account.
func (s *Scheduler) CancelSync(accountKey string) {
	s.syncCancelMu.Lock()
	if cancel, ok := s.syncCancels[accountKey]; ok {
		s.log.Info().Str("account", accountKey).Msg("cancelling running sync")
		cancel()
	}
	s.syncCancelMu.Unlock()
}
