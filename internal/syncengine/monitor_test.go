package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mjansen/mailsync/internal/config"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/store"
	"github.com/mjansen/mailsync/internal/testutil"
)

func TestMonitorRunCatalogsFoldersAndAbsorbsMailsyncDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	account := seedAccount(t, db)

	folders := store.NewFolderStore(db)
	folder, err := folders.GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	// sync_should_run=false makes the Engine raise MailsyncDone on its
	// very first Run() iteration, so the Monitor returns promptly.
	_, err = db.Exec(ctx, `UPDATE folders SET sync_should_run = false WHERE id = $1`, folder.ID)
	require.NoError(t, err)

	registry := pool.NewRegistry(testDialer(t, srv))
	cfg := &config.Config{
		PollFrequency:        50 * time.Millisecond,
		SlowRefreshInterval:  50 * time.Millisecond,
		ReconnectBackoff:     10 * time.Millisecond,
		MaxUIDInvalidResyncs: 10,
		MaxMessageBodyLength: 50 * 1024 * 1024,
	}

	monitor := NewMonitor(account, registry, store.NewAccountStore(db), folders, store.NewMessageStore(db),
		store.NewFileBlockstore(t.TempDir()), cfg, zerolog.Nop())

	require.NoError(t, monitor.Run(ctx))
}
