// aerion-syncd is the sync core's daemon entrypoint: it reads config.json,
// opens one SQLite database per account, and drives each account's
// sync.Engine either once (--once, for cron-style invocation) or on an
// interval for as long as the process runs (--daemon).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hkdb/aerion-sync/internal/account"
	"github.com/hkdb/aerion-sync/internal/accountstate"
	"github.com/hkdb/aerion-sync/internal/config"
	"github.com/hkdb/aerion-sync/internal/credentials"
	"github.com/hkdb/aerion-sync/internal/database"
	"github.com/hkdb/aerion-sync/internal/dirtyflag"
	"github.com/hkdb/aerion-sync/internal/folder"
	imapPkg "github.com/hkdb/aerion-sync/internal/imap"
	"github.com/hkdb/aerion-sync/internal/logging"
	"github.com/hkdb/aerion-sync/internal/message"
	"github.com/hkdb/aerion-sync/internal/opqueue"
	"github.com/hkdb/aerion-sync/internal/sync"
	"github.com/hkdb/aerion-sync/internal/ui"
)

var (
	configPath  string
	databaseDir string
	daemonMode  bool
	onceMode    bool
	interval    time.Duration
	debugMode   bool
	logPath     string
)

func main() {
	root := &cobra.Command{
		Use:   "aerion-syncd",
		Short: "Multi-account IMAP sync daemon",
		RunE:  run,
	}

	defaultConfigPath := "config.json"
	if dir, err := os.UserConfigDir(); err == nil {
		defaultConfigPath = filepath.Join(dir, "aerion-sync", "config.json")
	}

	root.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to config.json")
	root.Flags().StringVar(&databaseDir, "database", "./data", "directory holding each account's SQLite file")
	root.Flags().BoolVar(&daemonMode, "daemon", false, "run continuously, syncing each account on its interval")
	root.Flags().BoolVar(&onceMode, "once", false, "run exactly one sync pass per account, then exit")
	root.Flags().DurationVar(&interval, "interval", 0, "override every account's sync interval")
	root.Flags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	root.Flags().StringVar(&logPath, "log-file", "", "also append JSON log lines to this path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitErr, ok := err.(*exitError); ok {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

// exitError carries spec.md §6's distinct exit codes through cobra's
// error-returning RunE without collapsing everything to exit 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func run(cmd *cobra.Command, args []string) error {
	if err := logging.Configure(debugMode, logPath); err != nil {
		return &exitError{code: 1, err: fmt.Errorf("configure logging: %w", err)}
	}
	log := logging.WithComponent("syncd")

	if daemonMode == onceMode {
		return &exitError{code: 1, err: fmt.Errorf("exactly one of --once or --daemon must be set")}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	accounts := cfg.ResolveAccounts()

	defaultInterval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	if interval > 0 {
		defaultInterval = interval
		// ResolveAccounts fills in every account's SyncInterval, which the
		// scheduler prefers over defaultInterval, so the override has to be
		// applied per account too.
		for i := range accounts {
			accounts[i].SyncInterval = int(interval / time.Second)
		}
	}

	credStore, err := credentials.NewStore(databaseDir)
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("open credential store: %w", err)}
	}

	dbs := make(map[string]*database.DB, len(accounts))
	dirty := dirtyflag.New()
	engines := make(map[string]*sync.Engine, len(accounts))
	uiHandles := make(map[string]*ui.AccountHandle, len(accounts))

	for _, acc := range accounts {
		dbPath := filepath.Join(databaseDir, acc.Key, "emails.db")
		db, err := database.Open(dbPath)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("open database for %s: %w", acc.Name, err)}
		}
		if err := db.Migrate(); err != nil {
			return &exitError{code: 1, err: fmt.Errorf("migrate database for %s: %w", acc.Name, err)}
		}
		dbs[acc.Key] = db
	}
	defer func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	}()

	getCredentials := func(accountKey string) (*imapPkg.ClientConfig, error) {
		for _, acc := range accounts {
			if acc.Key != accountKey {
				continue
			}
			secret, err := credStore.GetSecret(acc.Key, credentials.RoleIMAP)
			if err != nil {
				return nil, fmt.Errorf("credentials for %s: %w", acc.Name, err)
			}
			clientCfg := imapPkg.DefaultConfig()
			clientCfg.Host = acc.IMAPHost
			clientCfg.Port = acc.IMAPPort
			clientCfg.Security = securityToIMAP(acc.IMAPSecurity)
			clientCfg.Username = acc.IMAPUsername
			clientCfg.Password = secret
			return &clientCfg, nil
		}
		return nil, fmt.Errorf("no configured account with key %q", accountKey)
	}

	pool := imapPkg.NewPool(imapPkg.DefaultPoolConfig(), getCredentials)
	defer pool.CloseAll()

	for _, acc := range accounts {
		db := dbs[acc.Key]
		folderStore := folder.NewStore(db.DB)
		messageStore := message.NewStore(db)
		opStore := opqueue.NewStore(db.DB)
		stateStore := accountstate.NewStore(db.DB)

		engines[acc.Key] = sync.NewEngine(acc.Key, pool, folderStore, messageStore, opStore, stateStore, dirty)
		uiHandles[acc.Key] = &ui.AccountHandle{
			Account:  acc,
			Folders:  folderStore,
			Messages: messageStore,
			Ops:      opStore,
		}
	}
	// Built for the terminal UI process to import against in-process tests;
	// the daemon itself only drives sync.Engine.RunOnce.
	_ = ui.NewService(accounts, uiHandles, dirty)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if onceMode {
		return runOnce(ctx, engines, accounts, log)
	}
	return runDaemon(ctx, engines, accounts, defaultInterval, dirty, getCredentials, log)
}

// runOnce drives exactly one sync pass per enabled account, sequentially,
// and exits 2 if any account failed (spec.md §6's --once exit contract: a
// sync failure mid-run is a runtime error, not a configuration error).
func runOnce(ctx context.Context, engines map[string]*sync.Engine, accounts []account.Account, log zerolog.Logger) error {
	failed := false
	for _, acc := range accounts {
		if !acc.Enabled {
			continue
		}
		engine, ok := engines[acc.Key]
		if !ok {
			continue
		}
		log.Info().Str("account", acc.Name).Msg("starting sync")
		if err := engine.RunOnce(ctx); err != nil {
			log.Error().Err(err).Str("account", acc.Name).Msg("sync failed")
			failed = true
			continue
		}
		log.Info().Str("account", acc.Name).Msg("sync complete")
	}
	if failed {
		return &exitError{code: 2, err: fmt.Errorf("one or more accounts failed to sync")}
	}
	return nil
}

// runDaemon hands every account's engine to a shared Scheduler and blocks
// until the process receives a shutdown signal. In parallel, it maintains an
// IDLE session per enabled account and short-circuits that account's poll
// interval whenever IDLE reports new mail or an expunge, per the sync
// engine's IDLE-augmented polling model.
func runDaemon(ctx context.Context, engines map[string]*sync.Engine, accounts []account.Account, defaultInterval time.Duration, dirty *dirtyflag.Map, getCredentials func(string) (*imapPkg.ClientConfig, error), log zerolog.Logger) error {
	scheduler := sync.NewScheduler(engines, accounts, defaultInterval)
	scheduler.SetSyncCompletedCallback(func(accountKey string, err error) {
		if err != nil {
			log.Warn().Err(err).Str("account", accountKey).Msg("scheduled sync finished with error")
		}
	})

	idleManager := imapPkg.NewIdleManager(imapPkg.DefaultIdleConfig(), getCredentials)
	idleManager.Start(ctx)
	for _, acc := range accounts {
		if acc.Enabled {
			idleManager.StartAccount(acc.Key, acc.Name)
		}
	}
	go processIdleEvents(ctx, idleManager, scheduler, dirty, log)

	scheduler.Start(ctx)
	log.Info().Int("accounts", len(accounts)).Dur("defaultInterval", defaultInterval).Msg("syncd running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining in-flight syncs")
	idleManager.Stop()
	scheduler.Stop()
	return nil
}

// processIdleEvents drains IDLE notifications and turns each one into a
// dirty-flag mark plus a manual sync trigger, so the next poll tick isn't
// needed for the UI to see the change.
func processIdleEvents(ctx context.Context, idleManager *imapPkg.IdleManager, scheduler *sync.Scheduler, dirty *dirtyflag.Map, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-idleManager.Events():
			switch event.Type {
			case imapPkg.EventNewMail, imapPkg.EventExpunge:
				dirty.Set(dirtyflag.Key{Account: event.AccountID, Folder: event.Folder})
				log.Debug().Str("account", event.AccountID).Str("type", event.Type.String()).
					Msg("IDLE notification, triggering sync")
				scheduler.TriggerSync(event.AccountID)
			}
		}
	}
}

func securityToIMAP(s account.Security) imapPkg.SecurityType {
	switch s {
	case account.SecurityStartTLS:
		return imapPkg.SecurityStartTLS
	case account.SecurityCleartext:
		return imapPkg.SecurityNone
	default:
		return imapPkg.SecurityTLS
	}
}
