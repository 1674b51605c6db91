// Command syncd is the sync daemon process: it loads configuration, opens
// the database and blockstore, then runs one Account Monitor per syncable
// account until terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/mjansen/mailsync/internal/config"
	"github.com/mjansen/mailsync/internal/credentials"
	"github.com/mjansen/mailsync/internal/crypto"
	"github.com/mjansen/mailsync/internal/logging"
	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/store"
	"github.com/mjansen/mailsync/internal/syncengine"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	dbPool, err := store.NewConnection(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.CloseConnection(dbPool)
	logger.Info().Msg("connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create encryptor")
	}

	secrets := store.NewSecretStore(dbPool)
	accounts := store.NewAccountStore(dbPool)
	folders := store.NewFolderStore(dbPool)
	messages := store.NewMessageStore(dbPool)
	blocks := store.NewFileBlockstore(cfg.BlockstorePath)

	refreshers := map[models.Provider]credentials.TokenRefresher{
		models.ProviderGmail:     credentials.NewGoogleRefresher(),
		models.ProviderMicrosoft: credentials.NewMicrosoftRefresher(),
	}
	provider := credentials.NewProvider(secrets, encryptor, refreshers)

	// 0 leaves transport.Config's own 10s default in place (§4.2).
	registry := pool.NewRegistry(syncengine.NewDialer(provider, 0))

	runAccounts(ctx, accounts, registry, folders, messages, blocks, cfg, logger)
}

// runAccounts lists every syncable account and runs one Account Monitor per
// account to completion. One account's Monitor returning an error is logged
// and does not stop the others — each account's Engines are independent
// per §5.
func runAccounts(ctx context.Context, accounts *store.AccountStore, registry *pool.Registry, folders *store.FolderStore,
	messages *store.MessageStore, blocks store.Blockstore, cfg *config.Config, logger zerolog.Logger) {

	syncable, err := accounts.ListSyncable(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list syncable accounts")
	}
	logger.Info().Int("count", len(syncable)).Msg("starting account monitors")

	var wg sync.WaitGroup
	for _, account := range syncable {
		account := account
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor := syncengine.NewMonitor(account, registry, accounts, folders, messages, blocks, cfg, logger)
			if err := monitor.Run(ctx); err != nil {
				logger.Error().Err(err).Int64("account_id", account.ID).Msg("account monitor stopped with an error")
			}
		}()
	}
	wg.Wait()
}
