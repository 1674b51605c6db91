package syncengine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mjansen/mailsync/internal/catalog"
	"github.com/mjansen/mailsync/internal/config"
	"github.com/mjansen/mailsync/internal/logging"
	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/store"
)

// Monitor is the Account Monitor of §5: one per running account, owning
// N+1 tasks — itself plus one Folder Sync Engine goroutine per syncable
// folder.
type Monitor struct {
	account  *models.Account
	registry *pool.Registry
	accounts *store.AccountStore
	folders  *store.FolderStore
	messages *store.MessageStore
	blocks   store.Blockstore
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewMonitor(account *models.Account, registry *pool.Registry, accounts *store.AccountStore, folders *store.FolderStore,
	messages *store.MessageStore, blocks store.Blockstore, cfg *config.Config, logger zerolog.Logger) *Monitor {
	return &Monitor{
		account:  account,
		registry: registry,
		accounts: accounts,
		folders:  folders,
		messages: messages,
		blocks:   blocks,
		cfg:      cfg,
		logger:   logging.ForAccount(logger, account.ID, account.EmailAddress),
	}
}

// Run lists folders, assigns roles and sync order, then drives one Engine
// per folder to completion (or until ctx is cancelled). It returns once
// every Engine has stopped.
func (m *Monitor) Run(ctx context.Context) error {
	ordered, err := m.catalogFolders(ctx)
	if err != nil {
		return fmt.Errorf("catalog folders for account %d: %w", m.account.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, raw := range ordered {
		raw := raw
		folder, err := m.folders.GetOrCreate(ctx, m.account.ID, raw.DisplayName, raw.Role)
		if err != nil {
			return fmt.Errorf("get or create folder %q for account %d: %w", raw.DisplayName, m.account.ID, err)
		}

		engine := NewEngine(m.account, folder, m.registry, m.folders, m.messages, m.blocks, m.accounts, m.cfg, m.logger)
		g.Go(func() error {
			err := engine.Run(gctx)
			var done *models.MailsyncDone
			if ok := asMailsyncDone(err, &done); ok {
				m.logger.Info().Str("folder", folder.DisplayName).Str("reason", done.Reason).Msg("folder sync engine stopped")
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func asMailsyncDone(err error, target **models.MailsyncDone) bool {
	if err == nil {
		return false
	}
	if d, ok := err.(*models.MailsyncDone); ok {
		*target = d
		return true
	}
	return false
}

// catalogFolders lists folders over a readonly lease, assigns roles, and
// orders them per §4.5. The lease is released before any Engine starts,
// since each Engine acquires its own leases independently.
func (m *Monitor) catalogFolders(ctx context.Context) ([]models.RawFolder, error) {
	lease, err := m.registry.Get(ctx, m.account, true)
	if err != nil {
		return nil, err
	}

	client, ok := lease.Client().(folderListClient)
	if !ok {
		lease.Release(fmt.Errorf("client does not support ListFolders"))
		return nil, fmt.Errorf("account %d's client cannot list folders", m.account.ID)
	}

	raw, err := client.ListFolders(ctx)
	lease.Release(err)
	if err != nil {
		return nil, err
	}

	assigned := catalog.AssignRoles(m.account.Provider, raw)
	ordered, err := catalog.SyncOrder(m.account.Provider, assigned)
	if err != nil {
		return nil, err
	}
	return ordered, nil
}

// folderListClient is the narrow surface catalogFolders needs; both
// *crispin.Client and *crispin.GmailClient satisfy it via promotion.
type folderListClient interface {
	ListFolders(ctx context.Context) ([]models.RawFolder, error)
}
