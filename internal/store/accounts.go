package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjansen/mailsync/internal/models"
)

// AccountStore reads and writes Account rows. The core only ever mutates
// the sync-status columns documented in SPEC_FULL.md §3 — identity,
// provider, and credential handle are written by an external caller.
type AccountStore struct {
	pool *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// ListSyncable returns every account whose sync_state is "running".
func (s *AccountStore) ListSyncable(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email_address, provider, auth_mode, imap_host, imap_port,
		       imap_username, credential_id, throttled, strict_tls, smartermail_quirk, sync_state,
		       folder_separator, folder_prefix, created_at, updated_at
		FROM accounts
		WHERE sync_state = 'running'
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list syncable accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a := &models.Account{}
		if err := rows.Scan(&a.ID, &a.EmailAddress, &a.Provider, &a.AuthMode, &a.IMAPHost, &a.IMAPPort,
			&a.IMAPUsername, &a.CredentialID, &a.Throttled, &a.StrictTLS, &a.SmarterMailQuirk, &a.SyncState,
			&a.FolderSeparator, &a.FolderPrefix, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get fetches one account by id.
func (s *AccountStore) Get(ctx context.Context, accountID int64) (*models.Account, error) {
	a := &models.Account{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email_address, provider, auth_mode, imap_host, imap_port,
		       imap_username, credential_id, throttled, strict_tls, smartermail_quirk, sync_state,
		       folder_separator, folder_prefix, created_at, updated_at
		FROM accounts WHERE id = $1`, accountID).
		Scan(&a.ID, &a.EmailAddress, &a.Provider, &a.AuthMode, &a.IMAPHost, &a.IMAPPort,
			&a.IMAPUsername, &a.CredentialID, &a.Throttled, &a.StrictTLS, &a.SmarterMailQuirk, &a.SyncState,
			&a.FolderSeparator, &a.FolderPrefix, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("account %d not found", accountID)
		}
		return nil, fmt.Errorf("get account %d: %w", accountID, err)
	}
	return a, nil
}

// SetSyncState updates only the account's lifecycle field, per the core's
// ownership rule that it never touches identity or credentials.
func (s *AccountStore) SetSyncState(ctx context.Context, accountID int64, state models.SyncState) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET sync_state = $2, updated_at = now() WHERE id = $1`, accountID, state)
	if err != nil {
		return fmt.Errorf("set sync_state for account %d: %w", accountID, err)
	}
	return nil
}

// SetFolderNaming persists the folder separator/prefix derived the first
// time a Client lists folders for this account (§4.4).
func (s *AccountStore) SetFolderNaming(ctx context.Context, accountID int64, separator, prefix string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts SET folder_separator = $2, folder_prefix = $3, updated_at = now()
		WHERE id = $1`, accountID, separator, prefix)
	if err != nil {
		return fmt.Errorf("set folder naming for account %d: %w", accountID, err)
	}
	return nil
}
