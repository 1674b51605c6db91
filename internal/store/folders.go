package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjansen/mailsync/internal/models"
)

// FolderStore reads and writes Folder rows and their embedded sync-status
// sub-record (§3).
type FolderStore struct {
	pool *pgxpool.Pool
}

func NewFolderStore(pool *pgxpool.Pool) *FolderStore {
	return &FolderStore{pool: pool}
}

// ListForAccount returns every folder row for one account, in id order.
func (s *FolderStore) ListForAccount(ctx context.Context, accountID int64) ([]*models.Folder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, display_name, role, uidvalidity, uidnext,
		       highestmodseq, phase, sync_should_run, last_slow_refresh,
		       initial_sync_start, initial_sync_end, uidinvalid_resyncs
		FROM folders WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list folders for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetOrCreate returns the folder row for (accountID, displayName),
// creating one in the initial phase if it does not exist yet.
func (s *FolderStore) GetOrCreate(ctx context.Context, accountID int64, displayName string, role *models.Role) (*models.Folder, error) {
	f := &models.Folder{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, display_name, role, uidvalidity, uidnext,
		       highestmodseq, phase, sync_should_run, last_slow_refresh,
		       initial_sync_start, initial_sync_end, uidinvalid_resyncs
		FROM folders WHERE account_id = $1 AND display_name = $2`, accountID, displayName).
		Scan(&f.ID, &f.AccountID, &f.DisplayName, &f.Role, &f.Status.UIDValidity, &f.Status.UIDNext,
			&f.Status.HighestModSeq, &f.Status.Phase, &f.Status.SyncShouldRun, &f.Status.LastSlowRefresh,
			&f.Status.InitialSyncStart, &f.Status.InitialSyncEnd, &f.Status.UIDInvalidResyncs)
	if err == nil {
		return f, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("get folder %s for account %d: %w", displayName, accountID, err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO folders (account_id, display_name, role, phase, sync_should_run)
		VALUES ($1, $2, $3, 'initial', true)
		RETURNING id, account_id, display_name, role, uidvalidity, uidnext,
		          highestmodseq, phase, sync_should_run, last_slow_refresh,
		          initial_sync_start, initial_sync_end, uidinvalid_resyncs`,
		accountID, displayName, role).
		Scan(&f.ID, &f.AccountID, &f.DisplayName, &f.Role, &f.Status.UIDValidity, &f.Status.UIDNext,
			&f.Status.HighestModSeq, &f.Status.Phase, &f.Status.SyncShouldRun, &f.Status.LastSlowRefresh,
			&f.Status.InitialSyncStart, &f.Status.InitialSyncEnd, &f.Status.UIDInvalidResyncs)
	if err != nil {
		return nil, fmt.Errorf("create folder %s for account %d: %w", displayName, accountID, err)
	}
	return f, nil
}

// SaveStatus persists the folder's sync-status sub-record. Called
// periodically by the Engine during initial sync and at the end of every
// poll pass (§4.6).
func (s *FolderStore) SaveStatus(ctx context.Context, folderID int64, status models.SyncStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE folders SET uidvalidity = $2, uidnext = $3, highestmodseq = $4, phase = $5,
		       sync_should_run = $6, last_slow_refresh = $7, initial_sync_start = $8,
		       initial_sync_end = $9, uidinvalid_resyncs = $10
		WHERE id = $1`,
		folderID, status.UIDValidity, status.UIDNext, status.HighestModSeq, status.Phase,
		status.SyncShouldRun, status.LastSlowRefresh, status.InitialSyncStart, status.InitialSyncEnd,
		status.UIDInvalidResyncs)
	if err != nil {
		return fmt.Errorf("save status for folder %d: %w", folderID, err)
	}
	return nil
}

// ResetForResync implements resync_uids' folder-status half (§4.6): phase
// reverts to initial, uidvalidity is set to newUIDValidity,
// uidnext/highestmodseq are cleared, and the resync counter increments.
func (s *FolderStore) ResetForResync(ctx context.Context, folderID int64, newUIDValidity uint32) (int, error) {
	var resyncs int
	err := s.pool.QueryRow(ctx, `
		UPDATE folders
		SET phase = 'initial', uidvalidity = $2, uidnext = 0, highestmodseq = 0,
		    uidinvalid_resyncs = uidinvalid_resyncs + 1
		WHERE id = $1
		RETURNING uidinvalid_resyncs`, folderID, newUIDValidity).Scan(&resyncs)
	if err != nil {
		return 0, fmt.Errorf("reset folder %d for resync: %w", folderID, err)
	}
	return resyncs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFolder(row rowScanner) (*models.Folder, error) {
	f := &models.Folder{}
	if err := row.Scan(&f.ID, &f.AccountID, &f.DisplayName, &f.Role, &f.Status.UIDValidity, &f.Status.UIDNext,
		&f.Status.HighestModSeq, &f.Status.Phase, &f.Status.SyncShouldRun, &f.Status.LastSlowRefresh,
		&f.Status.InitialSyncStart, &f.Status.InitialSyncEnd, &f.Status.UIDInvalidResyncs); err != nil {
		return nil, fmt.Errorf("scan folder row: %w", err)
	}
	return f, nil
}

// TouchSlowRefresh sets last_slow_refresh to when, gating the slow full-reconcile
// pass (§4.6 supplement).
func (s *FolderStore) TouchSlowRefresh(ctx context.Context, folderID int64, when time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE folders SET last_slow_refresh = $2 WHERE id = $1`, folderID, when)
	if err != nil {
		return fmt.Errorf("touch slow refresh for folder %d: %w", folderID, err)
	}
	return nil
}
