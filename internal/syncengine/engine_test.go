package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mjansen/mailsync/internal/config"
	"github.com/mjansen/mailsync/internal/crispin"
	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/store"
	"github.com/mjansen/mailsync/internal/testutil"
)

// seedAccount inserts a secrets row and an accounts row so folders/messages
// (both FK-bound to accounts) can be written during a test.
func seedAccount(t *testing.T, db *pgxpool.Pool) *models.Account {
	t.Helper()
	ctx := context.Background()

	var secretID int64
	err := db.QueryRow(ctx, `
		INSERT INTO secrets (type, ciphertext, encryption_scheme) VALUES ('password', 'x', 1) RETURNING id`).
		Scan(&secretID)
	require.NoError(t, err)

	a := &models.Account{
		EmailAddress: "user@example.com",
		Provider:     models.ProviderCustom,
		AuthMode:     models.AuthModePassword,
		IMAPHost:     "127.0.0.1",
		IMAPPort:     143,
		CredentialID: secretID,
		SyncState:    models.SyncStateRunning,
	}
	err = db.QueryRow(ctx, `
		INSERT INTO accounts (email_address, provider, auth_mode, imap_host, imap_port, credential_id, sync_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.EmailAddress, a.Provider, a.AuthMode, a.IMAPHost, a.IMAPPort, a.CredentialID, a.SyncState).
		Scan(&a.ID)
	require.NoError(t, err)
	return a
}

// testDialer wraps an in-memory IMAP connection the same way
// crispin_test's newTestClient does, bypassing transport.Connect since the
// test server speaks plaintext only.
func testDialer(t *testing.T, srv *testutil.TestIMAPServer) pool.Dialer {
	return func(_ context.Context, account *models.Account, readonly bool) (pool.Client, error) {
		conn, cleanup := srv.Connect(t)
		t.Cleanup(cleanup)
		return crispin.NewClient(conn, account.ID, readonly), nil
	}
}

func newTestEngine(t *testing.T, db *pgxpool.Pool, srv *testutil.TestIMAPServer, account *models.Account, folder *models.Folder) *Engine {
	t.Helper()
	registry := pool.NewRegistry(testDialer(t, srv))
	cfg := &config.Config{
		PollFrequency:        50 * time.Millisecond,
		SlowRefreshInterval:  50 * time.Millisecond,
		ReconnectBackoff:     10 * time.Millisecond,
		MaxUIDInvalidResyncs: 10,
		MaxMessageBodyLength: 50 * 1024 * 1024,
	}
	return NewEngine(account, folder, registry,
		store.NewFolderStore(db), store.NewMessageStore(db), store.NewFileBlockstore(t.TempDir()),
		store.NewAccountStore(db), cfg, zerolog.Nop())
}

func TestStepInitialDownloadsDeltaAndTransitionsToPoll(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	now := time.Now()
	srv.AddMessage(t, "INBOX", "<msg1@example.com>", "Hello", "a@example.com", "b@example.com", now)
	srv.AddMessage(t, "INBOX", "<msg2@example.com>", "World", "a@example.com", "b@example.com", now)

	account := seedAccount(t, db)
	folders := store.NewFolderStore(db)
	folder, err := folders.GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)

	require.NoError(t, engine.stepInitial(ctx))
	require.Equal(t, models.PhasePoll, engine.folder.Status.Phase)
	require.NotNil(t, engine.folder.Status.InitialSyncEnd)

	messages := store.NewMessageStore(db)
	uids, err := messages.LocalUIDs(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, uids, 2)
}

func TestStepPollReconcilesFlagsAndDownloadsNewMessages(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	now := time.Now()
	uid1 := srv.AddMessage(t, "INBOX", "<msg1@example.com>", "Hello", "a@example.com", "b@example.com", now)

	account := seedAccount(t, db)
	folders := store.NewFolderStore(db)
	folder, err := folders.GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)
	require.NoError(t, engine.stepInitial(ctx))

	// star the already-synced message and add a second one before polling.
	conn, cleanup := srv.Connect(t)
	defer cleanup()
	flagClient := crispin.NewClient(conn, account.ID, false)
	_, err = flagClient.SelectFolder(ctx, "INBOX")
	require.NoError(t, err)
	require.NoError(t, flagClient.SetStarred([]uint32{uid1}, true))
	srv.AddMessage(t, "INBOX", "<msg2@example.com>", "World", "a@example.com", "b@example.com", now)

	require.NoError(t, engine.stepPoll(ctx))

	messages := store.NewMessageStore(db)
	uids, err := messages.LocalUIDs(ctx, folder.ID)
	require.NoError(t, err)
	require.Len(t, uids, 2)

	var flags []string
	require.NoError(t, db.QueryRow(ctx, `SELECT flags FROM imap_uids WHERE folder_id = $1 AND msg_uid = $2`, folder.ID, uid1).Scan(&flags))
	require.Contains(t, flags, `\Flagged`)
}

func TestClassifyUidInvalidTriggersResync(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()
	srv.EnsureINBOX(t)

	account := seedAccount(t, db)
	folders := store.NewFolderStore(db)
	folder, err := folders.GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)
	folder.Status.UIDValidity = 1

	engine := newTestEngine(t, db, srv, account, folder)

	stepErr := &models.UidInvalidError{FolderID: folder.ID, Old: 1, New: 2}
	done, terminal := engine.classify(ctx, stepErr)
	require.False(t, terminal)
	require.Nil(t, done)
	require.Equal(t, models.PhaseInitial, engine.folder.Status.Phase)
	require.Equal(t, uint32(2), engine.folder.Status.UIDValidity)
}

func TestClassifyFolderMissingIsTerminal(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	account := seedAccount(t, db)
	folder, err := store.NewFolderStore(db).GetOrCreate(ctx, account.ID, "Gone", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)

	done, terminal := engine.classify(ctx, &models.FolderMissingError{FolderName: "Gone"})
	require.True(t, terminal)
	require.Error(t, done)
}

func TestClassifyInvalidCredentialsMarksAccountInvalidAndForgetsPool(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	account := seedAccount(t, db)
	folder, err := store.NewFolderStore(db).GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)

	done, terminal := engine.classify(ctx, &models.InvalidCredentialsError{ServerMessage: "bad password"})
	require.True(t, terminal)
	require.Error(t, done)

	accounts := store.NewAccountStore(db)
	reloaded, err := accounts.Get(ctx, account.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStateInvalid, reloaded.SyncState)
}

func TestClassifyPoolTimeoutBacksOffAndContinues(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	account := seedAccount(t, db)
	folder, err := store.NewFolderStore(db).GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)

	start := time.Now()
	done, terminal := engine.classify(ctx, &models.PoolTimeoutError{AccountID: account.ID, Readonly: true})
	require.False(t, terminal)
	require.Nil(t, done)
	require.GreaterOrEqual(t, time.Since(start), engine.cfg.ReconnectBackoff)
}

func TestClassifyNetworkErrorBacksOffAndContinues(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	srv := testutil.NewTestIMAPServer(t)
	defer srv.Close()

	account := seedAccount(t, db)
	folder, err := store.NewFolderStore(db).GetOrCreate(ctx, account.ID, "INBOX", nil)
	require.NoError(t, err)

	engine := newTestEngine(t, db, srv, account, folder)

	start := time.Now()
	done, terminal := engine.classify(ctx, &models.NetworkError{Cause: context.DeadlineExceeded})
	require.False(t, terminal)
	require.Nil(t, done)
	require.GreaterOrEqual(t, time.Since(start), engine.cfg.ReconnectBackoff)
}
