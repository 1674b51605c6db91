package syncengine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	imap "github.com/emersion/go-imap"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jhillyerd/enmime"
	"github.com/rs/zerolog"

	"github.com/mjansen/mailsync/internal/config"
	"github.com/mjansen/mailsync/internal/crispin"
	"github.com/mjansen/mailsync/internal/logging"
	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/store"
)

// downloadChunkSize bounds how many UIDs one Uids() FETCH requests at a
// time during initial sync and new-UID backfill (§4.6).
const downloadChunkSize = 50

// folderClient is the surface the Engine drives a leased connection
// through. It deliberately excludes Flags/CondstoreChangedFlags, whose
// Gmail overrides return a different concrete type (models.GmailFlags
// instead of models.PlainFlags) and so are called via a type assertion
// to *crispin.Client / *crispin.GmailClient at the call site instead.
type folderClient interface {
	pool.Client
	SelectFolder(ctx context.Context, name string) (*imap.MailboxStatus, error)
	CondstoreSupported() (bool, error)
	IdleSupported() (bool, error)
	AllUIDs() ([]uint32, error)
	Uids(uids []uint32) ([]models.RawMessage, error)
	Idle(ctx context.Context, timeout time.Duration) ([]crispin.IdleEvent, error)
}

// Engine is one Folder Sync Engine instance: the state machine of §4.6,
// owning exactly one (account, folder) pair for its lifetime.
type Engine struct {
	account *models.Account
	folder  *models.Folder

	registry *pool.Registry
	folders  *store.FolderStore
	messages *store.MessageStore
	blocks   store.Blockstore
	accounts *store.AccountStore
	cfg      *config.Config
	logger   zerolog.Logger

	// idleCapable is true for the one folder per account the Account
	// Monitor lets IDLE replace the plain poll-frequency sleep: INBOX for
	// generic accounts, the "all" folder for Gmail (§4.6 supplement).
	idleCapable bool
}

// NewEngine builds an Engine for one already-cataloged folder.
func NewEngine(account *models.Account, folder *models.Folder, registry *pool.Registry, folders *store.FolderStore,
	messages *store.MessageStore, blocks store.Blockstore, accounts *store.AccountStore, cfg *config.Config, logger zerolog.Logger) *Engine {

	idleCapable := false
	if folder.Role != nil {
		if account.Provider == models.ProviderGmail {
			idleCapable = *folder.Role == models.RoleAll
		} else {
			idleCapable = *folder.Role == models.RoleInbox
		}
	}

	return &Engine{
		account:     account,
		folder:      folder,
		registry:    registry,
		folders:     folders,
		messages:    messages,
		blocks:      blocks,
		accounts:    accounts,
		cfg:         cfg,
		logger:      logging.ForFolder(logging.ForAccount(logger, account.ID, account.EmailAddress), folder.ID, folder.DisplayName),
		idleCapable: idleCapable,
	}
}

// Run drives the state machine until a terminal MailsyncDone, a fatal
// error, or ctx is cancelled. Callers (the Account Monitor) run this in
// its own goroutine per folder (§5).
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if fresh, err := e.folders.GetOrCreate(ctx, e.account.ID, e.folder.DisplayName, e.folder.Role); err != nil {
			e.logger.Warn().Err(err).Msg("failed to refresh folder status, continuing with cached value")
		} else {
			e.folder.Status.SyncShouldRun = fresh.Status.SyncShouldRun
		}
		if !e.folder.Status.SyncShouldRun {
			return &models.MailsyncDone{Reason: "sync_should_run=false"}
		}

		var stepErr error
		if e.folder.Status.Phase == models.PhaseInitial {
			stepErr = e.stepInitial(ctx)
		} else {
			stepErr = e.stepPoll(ctx)
		}
		if stepErr == nil {
			continue
		}

		if done, terminal := e.classify(ctx, stepErr); terminal {
			return done
		}
	}
}

// classify implements §4.6's failure semantics: it mutates Engine state
// for the recoverable cases (resync, backoff) and returns (reason,
// true) only when the Engine should stop running altogether.
func (e *Engine) classify(ctx context.Context, stepErr error) (error, bool) {
	var done *models.MailsyncDone
	if errors.As(stepErr, &done) {
		return done, true
	}

	var folderMissing *models.FolderMissingError
	if errors.As(stepErr, &folderMissing) {
		return &models.MailsyncDone{Reason: fmt.Sprintf("folder %q missing", e.folder.DisplayName)}, true
	}

	var uidInvalid *models.UidInvalidError
	if errors.As(stepErr, &uidInvalid) {
		if resyncDone := e.resyncUIDs(ctx, uidInvalid.New); resyncDone != nil {
			return resyncDone, true
		}
		return nil, false
	}

	var invalidCreds *models.InvalidCredentialsError
	var appPwd *models.AppPasswordRequiredError
	var invalidGrant *models.OAuthInvalidGrantError
	if errors.As(stepErr, &invalidCreds) || errors.As(stepErr, &appPwd) || errors.As(stepErr, &invalidGrant) {
		if err := e.accounts.SetSyncState(ctx, e.account.ID, models.SyncStateInvalid); err != nil {
			e.logger.Error().Err(err).Msg("failed to mark account invalid")
		}
		e.registry.Forget(e.account.ID)
		return &models.MailsyncDone{Reason: fmt.Sprintf("credentials invalid: %v", stepErr)}, true
	}

	var netErr *models.NetworkError
	var abortErr *models.ImapAbortError
	if errors.As(stepErr, &netErr) || errors.As(stepErr, &abortErr) {
		e.logger.Warn().Err(stepErr).Msg("connection error, reconnecting after backoff")
		if !sleepOrDone(ctx, e.cfg.ReconnectBackoff) {
			return &models.MailsyncDone{Reason: "cancelled during reconnect backoff"}, true
		}
		return nil, false
	}

	var poolTimeout *models.PoolTimeoutError
	if errors.As(stepErr, &poolTimeout) {
		e.logger.Warn().Err(stepErr).Msg("pool acquire timed out, retrying after backoff")
		if !sleepOrDone(ctx, e.cfg.ReconnectBackoff) {
			return &models.MailsyncDone{Reason: "cancelled during pool-timeout backoff"}, true
		}
		return nil, false
	}

	return stepErr, true
}

// resyncUIDs implements the resync_uids transition: purge ImapUids,
// revert the folder to initial, and raise MailsyncDone if the per-folder
// resync counter has exceeded MaxUIDInvalidResyncs.
func (e *Engine) resyncUIDs(ctx context.Context, newUIDValidity uint32) *models.MailsyncDone {
	if err := e.messages.DeleteAllForFolder(ctx, e.folder.ID); err != nil {
		return &models.MailsyncDone{Reason: fmt.Sprintf("resync purge failed for folder %d: %v", e.folder.ID, err)}
	}
	resyncs, err := e.folders.ResetForResync(ctx, e.folder.ID, newUIDValidity)
	if err != nil {
		return &models.MailsyncDone{Reason: fmt.Sprintf("resync reset failed for folder %d: %v", e.folder.ID, err)}
	}

	e.folder.Status.Phase = models.PhaseInitial
	e.folder.Status.UIDValidity = newUIDValidity
	e.folder.Status.UIDNext = 0
	e.folder.Status.HighestModSeq = 0
	e.folder.Status.UIDInvalidResyncs = resyncs

	if resyncs > e.cfg.MaxUIDInvalidResyncs {
		return &models.MailsyncDone{Reason: fmt.Sprintf("folder %d exceeded max uidinvalid resyncs (%d)", e.folder.ID, resyncs)}
	}
	return nil
}

// stepInitial implements the initial-sync phase of §4.6: select, take the
// delta against local state, then download and persist it in chunks.
func (e *Engine) stepInitial(ctx context.Context) error {
	lease, err := e.registry.Get(ctx, e.account, true)
	if err != nil {
		return err
	}
	var opErr error
	defer func() { lease.Release(opErr) }()

	client, ok := lease.Client().(folderClient)
	if !ok {
		opErr = fmt.Errorf("account %d's client does not implement folderClient", e.account.ID)
		return opErr
	}

	status, err := client.SelectFolder(ctx, e.folder.DisplayName)
	if err != nil {
		opErr = err
		return err
	}

	if e.folder.Status.InitialSyncStart == nil {
		now := time.Now()
		e.folder.Status.InitialSyncStart = &now
	}
	e.folder.Status.UIDValidity = status.UidValidity

	allUIDs, err := client.AllUIDs()
	if err != nil {
		opErr = err
		return err
	}

	localUIDs, err := e.messages.LocalUIDs(ctx, e.folder.ID)
	if err != nil {
		opErr = err
		return err
	}
	local := make(map[uint32]struct{}, len(localUIDs))
	for _, u := range localUIDs {
		local[u] = struct{}{}
	}

	var delta []uint32
	for _, u := range allUIDs {
		if _, seen := local[u]; !seen {
			delta = append(delta, u)
		}
	}

	isGmail := e.account.Provider == models.ProviderGmail
	if err := e.downloadAndPersist(ctx, lease, client, isGmail, delta); err != nil {
		opErr = err
		return err
	}

	now := time.Now()
	e.folder.Status.InitialSyncEnd = &now
	e.folder.Status.UIDNext = uint64(status.UidNext)
	e.folder.Status.Phase = models.PhasePoll
	if err := e.folders.SaveStatus(ctx, e.folder.ID, e.folder.Status); err != nil {
		opErr = err
		return err
	}
	return nil
}

// stepPoll implements one pass of the poll phase (§4.6): fresh SELECT,
// UIDVALIDITY check, flags reconciliation (CONDSTORE or full diff), new
// UIDs, slow-refresh-gated expunge, status persist, then the
// IDLE-or-sleep wait.
func (e *Engine) stepPoll(ctx context.Context) error {
	lease, err := e.registry.Get(ctx, e.account, true)
	if err != nil {
		return err
	}
	var opErr error
	defer func() { lease.Release(opErr) }()

	client, ok := lease.Client().(folderClient)
	if !ok {
		opErr = fmt.Errorf("account %d's client does not implement folderClient", e.account.ID)
		return opErr
	}

	status, err := client.SelectFolder(ctx, e.folder.DisplayName)
	if err != nil {
		opErr = err
		return err
	}

	if e.folder.Status.UIDValidity != 0 && status.UidValidity != e.folder.Status.UIDValidity {
		opErr = &models.UidInvalidError{FolderID: e.folder.ID, Old: e.folder.Status.UIDValidity, New: status.UidValidity}
		return opErr
	}
	e.folder.Status.UIDValidity = status.UidValidity

	isGmail := e.account.Provider == models.ProviderGmail

	condstoreOK, err := client.CondstoreSupported()
	if err != nil {
		opErr = err
		return err
	}
	if condstoreOK {
		if err := e.reconcileCondstore(ctx, lease, isGmail); err != nil {
			opErr = err
			return err
		}
	} else if err := e.reconcileFullFlags(ctx, lease, isGmail); err != nil {
		opErr = err
		return err
	}

	allUIDs, err := client.AllUIDs()
	if err != nil {
		opErr = err
		return err
	}

	var newUIDs []uint32
	for _, u := range allUIDs {
		if uint64(u) >= e.folder.Status.UIDNext {
			newUIDs = append(newUIDs, u)
		}
	}
	if err := e.downloadAndPersist(ctx, lease, client, isGmail, newUIDs); err != nil {
		opErr = err
		return err
	}

	if time.Since(e.folder.Status.LastSlowRefresh) >= e.cfg.SlowRefreshInterval {
		present := make(map[uint32]struct{}, len(allUIDs))
		for _, u := range allUIDs {
			present[u] = struct{}{}
		}
		if _, err := e.messages.ExpungeMissing(ctx, e.folder.ID, present); err != nil {
			opErr = err
			return err
		}
		e.folder.Status.LastSlowRefresh = time.Now()
	}

	e.folder.Status.UIDNext = uint64(status.UidNext)
	if err := e.folders.SaveStatus(ctx, e.folder.ID, e.folder.Status); err != nil {
		opErr = err
		return err
	}

	if e.idleCapable {
		if idleSupported, idleErr := client.IdleSupported(); idleErr == nil && idleSupported {
			_, _ = client.Idle(ctx, e.cfg.PollFrequency)
			return nil
		}
	}
	if !sleepOrDone(ctx, e.cfg.PollFrequency) {
		opErr = ctx.Err()
		return opErr
	}
	return nil
}

// reconcileCondstore applies §4.6 poll step 3: CHANGEDSINCE already
// filters server-side, so the Engine always issues it against the stored
// baseline rather than first comparing against a separately-reported
// HIGHESTMODSEQ (go-imap's core MailboxStatus has no typed field for
// it — see DESIGN.md). The new baseline is the max ModSeq observed.
func (e *Engine) reconcileCondstore(ctx context.Context, lease *pool.Lease, isGmail bool) error {
	baseline := e.folder.Status.HighestModSeq
	maxModSeq := baseline

	if isGmail {
		gc, ok := lease.Client().(*crispin.GmailClient)
		if !ok {
			return fmt.Errorf("gmail account %d's client is not a GmailClient", e.account.ID)
		}
		changed, err := gc.CondstoreChangedFlags(baseline)
		if err != nil {
			return err
		}
		for _, f := range changed {
			if err := e.messages.ApplyFlags(ctx, e.account.ID, e.folder.ID, f.UID, f.Flags, f.Labels); err != nil {
				return err
			}
			if f.ModSeq > maxModSeq {
				maxModSeq = f.ModSeq
			}
		}
	} else {
		cc, ok := lease.Client().(*crispin.Client)
		if !ok {
			return fmt.Errorf("account %d's client is not a crispin.Client", e.account.ID)
		}
		changed, err := cc.CondstoreChangedFlags(baseline)
		if err != nil {
			return err
		}
		for _, f := range changed {
			if err := e.messages.ApplyFlags(ctx, e.account.ID, e.folder.ID, f.UID, f.Flags, nil); err != nil {
				return err
			}
			if f.ModSeq > maxModSeq {
				maxModSeq = f.ModSeq
			}
		}
	}

	e.folder.Status.HighestModSeq = maxModSeq
	return nil
}

// reconcileFullFlags applies §4.6 poll step 4 for servers without
// CONDSTORE: re-fetch flags for every locally known UID and write back
// whatever the server reports now.
func (e *Engine) reconcileFullFlags(ctx context.Context, lease *pool.Lease, isGmail bool) error {
	localUIDs, err := e.messages.LocalUIDs(ctx, e.folder.ID)
	if err != nil {
		return err
	}
	if len(localUIDs) == 0 {
		return nil
	}

	if isGmail {
		gc, ok := lease.Client().(*crispin.GmailClient)
		if !ok {
			return fmt.Errorf("gmail account %d's client is not a GmailClient", e.account.ID)
		}
		flags, err := gc.Flags(localUIDs)
		if err != nil {
			return err
		}
		for _, f := range flags {
			if err := e.messages.ApplyFlags(ctx, e.account.ID, e.folder.ID, f.UID, f.Flags, f.Labels); err != nil {
				return err
			}
		}
		return nil
	}

	cc, ok := lease.Client().(*crispin.Client)
	if !ok {
		return fmt.Errorf("account %d's client is not a crispin.Client", e.account.ID)
	}
	flags, err := cc.Flags(localUIDs)
	if err != nil {
		return err
	}
	for _, f := range flags {
		if err := e.messages.ApplyFlags(ctx, e.account.ID, e.folder.ID, f.UID, f.Flags, nil); err != nil {
			return err
		}
	}
	return nil
}

// downloadAndPersist fetches uids in chunks and persists each as a
// Message/ImapUid pair, deduping by body hash across folders (§4.6
// initial-sync steps 2-3, reused for poll's new-UID step 5).
func (e *Engine) downloadAndPersist(ctx context.Context, lease *pool.Lease, client folderClient, isGmail bool, uids []uint32) error {
	for i := 0; i < len(uids); i += downloadChunkSize {
		end := i + downloadChunkSize
		if end > len(uids) {
			end = len(uids)
		}
		chunk := uids[i:end]

		raws, err := client.Uids(chunk)
		if err != nil {
			return err
		}

		if isGmail {
			gc, ok := lease.Client().(*crispin.GmailClient)
			if !ok {
				return fmt.Errorf("gmail account %d's client is not a GmailClient", e.account.ID)
			}
			metadata, err := gc.GMetadata(chunk)
			if err != nil {
				return err
			}
			gflags, err := gc.Flags(chunk)
			if err != nil {
				return err
			}
			labels := make(map[uint32][]string, len(gflags))
			for _, gf := range gflags {
				labels[gf.UID] = gf.Labels
			}
			for idx := range raws {
				if m, ok := metadata[raws[idx].UID]; ok {
					raws[idx].GMsgID = m.GMsgID
					raws[idx].GThrID = m.GThrID
				}
				raws[idx].GLabels = labels[raws[idx].UID]
			}
		}

		for _, raw := range raws {
			if err := e.persistMessage(ctx, raw); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// persistMessage implements the cross-folder dedup invariant: look up an
// existing Message by body hash before creating a new one, then bind an
// ImapUid to whichever Message ID applies (§4.6, §8).
func (e *Engine) persistMessage(ctx context.Context, raw models.RawMessage) error {
	hash := sha256Hex(raw.Body)

	existing, err := e.messages.FindByHash(ctx, e.account.ID, hash)
	if err != nil {
		return err
	}

	messageID := int64(0)
	if existing != nil {
		messageID = existing.ID
	} else {
		receivedDate := time.Now()
		if raw.HasInternalDate {
			receivedDate = raw.InternalDate
		}
		m := &models.Message{
			AccountID:    e.account.ID,
			DataSHA256:   hash,
			GMsgID:       raw.GMsgID,
			GThrID:       raw.GThrID,
			Subject:      extractSubject(raw.Body),
			ReceivedDate: receivedDate,
			Size:         int64(len(raw.Body)),
			IsRead:       raw.Flags.Has(models.FlagSeen),
			IsStarred:    raw.Flags.Has(models.FlagFlagged),
			IsDraft:      raw.Flags.Has(models.FlagDraft),
		}
		messageID, err = e.messages.Create(ctx, m)
		if err != nil {
			return err
		}
		if err := e.blocks.Put(ctx, hash, raw.Body); err != nil {
			return err
		}
	}

	uid := &models.ImapUid{
		AccountID: e.account.ID,
		FolderID:  e.folder.ID,
		MsgUID:    raw.UID,
		MessageID: messageID,
		Flags:     raw.Flags,
		Labels:    raw.GLabels,
	}
	if err := e.messages.UpsertImapUid(ctx, uid); err != nil {
		if isDuplicateConstraint(err) {
			return &models.MailsyncDone{Reason: fmt.Sprintf("duplicate imap uid constraint on folder %d: %v", e.folder.ID, err)}
		}
		return err
	}
	return nil
}

// extractSubject pulls the Subject header out of a raw body via enmime's
// header parsing, the same tool fetch.go uses to recover a missing
// INTERNALDATE — never a full MIME decode.
func extractSubject(body []byte) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(body))
	if err != nil || env == nil {
		return ""
	}
	return env.GetHeader("Subject")
}

func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// isDuplicateConstraint reports whether err is a Postgres unique_violation
// (23505), the schema-level sign of external state corruption §4.6 treats
// as fatal (implies a missing Folder row).
func isDuplicateConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
