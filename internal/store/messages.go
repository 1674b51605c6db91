package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjansen/mailsync/internal/models"
)

// MessageStore implements the cross-folder dedup invariant of §3/§8: at
// most one Message per (account, data_sha256), shared by every ImapUid
// that hashes to the same body.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// FindByHash looks up an existing Message for (accountID, dataSHA256).
// Returns (nil, nil) if none exists yet.
func (s *MessageStore) FindByHash(ctx context.Context, accountID int64, dataSHA256 string) (*models.Message, error) {
	m := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, data_sha256, g_msgid, g_thrid, subject, received_date, size,
		       is_read, is_starred, is_draft
		FROM messages WHERE account_id = $1 AND data_sha256 = $2`, accountID, dataSHA256).
		Scan(&m.ID, &m.AccountID, &m.DataSHA256, &m.GMsgID, &m.GThrID, &m.Subject, &m.ReceivedDate, &m.Size,
			&m.IsRead, &m.IsStarred, &m.IsDraft)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find message by hash: %w", err)
	}
	return m, nil
}

// Create inserts a new Message row. Callers must have already confirmed,
// via FindByHash, that no Message exists yet for this body hash.
func (s *MessageStore) Create(ctx context.Context, m *models.Message) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (account_id, data_sha256, g_msgid, g_thrid, subject, received_date, size,
		                       is_read, is_starred, is_draft)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		m.AccountID, m.DataSHA256, m.GMsgID, m.GThrID, m.Subject, m.ReceivedDate, m.Size,
		m.IsRead, m.IsStarred, m.IsDraft).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create message: %w", err)
	}
	return id, nil
}

// UpsertImapUid inserts or updates the (account, folder, uid) row, binding
// it to messageID. A UID never migrates folders, so the unique index is
// on the full (account_id, folder_id, msg_uid) triple (§6).
func (s *MessageStore) UpsertImapUid(ctx context.Context, u *models.ImapUid) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO imap_uids (account_id, folder_id, msg_uid, message_id, flags, labels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, folder_id, msg_uid)
		DO UPDATE SET message_id = EXCLUDED.message_id, flags = EXCLUDED.flags, labels = EXCLUDED.labels`,
		u.AccountID, u.FolderID, u.MsgUID, u.MessageID, u.Flags.Slice(), u.Labels)
	if err != nil {
		return fmt.Errorf("upsert imap uid (%d,%d,%d): %w", u.AccountID, u.FolderID, u.MsgUID, err)
	}
	return nil
}

// LocalUIDs returns every msg_uid currently recorded for one folder, used
// to diff against the server's latest SEARCH result (§4.6 poll step 6, §8
// invariant).
func (s *MessageStore) LocalUIDs(ctx context.Context, folderID int64) ([]uint32, error) {
	rows, err := s.pool.Query(ctx, `SELECT msg_uid FROM imap_uids WHERE folder_id = $1 ORDER BY msg_uid`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list local uids for folder %d: %w", folderID, err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan uid row: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// ExpungeMissing deletes ImapUid rows for a folder whose msg_uid is not in
// the given still-present set — the transient-UID cleanup of §4.6 step 6.
func (s *MessageStore) ExpungeMissing(ctx context.Context, folderID int64, stillPresent map[uint32]struct{}) (int64, error) {
	keep := make([]uint32, 0, len(stillPresent))
	for uid := range stillPresent {
		keep = append(keep, uid)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM imap_uids WHERE folder_id = $1 AND NOT (msg_uid = ANY($2))`, folderID, keep)
	if err != nil {
		return 0, fmt.Errorf("expunge missing uids for folder %d: %w", folderID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllForFolder implements resync_uids' UID-purge half (§4.6).
func (s *MessageStore) DeleteAllForFolder(ctx context.Context, folderID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM imap_uids WHERE folder_id = $1`, folderID)
	if err != nil {
		return fmt.Errorf("delete all imap uids for folder %d: %w", folderID, err)
	}
	return nil
}

// ApplyFlags updates the persisted flags/labels for one ImapUid without
// touching its Message binding — the condstore/flags reconciliation path
// of §4.6 poll steps 3-4.
func (s *MessageStore) ApplyFlags(ctx context.Context, accountID, folderID int64, uid uint32, flags models.FlagSet, labels []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE imap_uids SET flags = $4, labels = $5
		WHERE account_id = $1 AND folder_id = $2 AND msg_uid = $3`,
		accountID, folderID, uid, flags.Slice(), labels)
	if err != nil {
		return fmt.Errorf("apply flags to uid %d: %w", uid, err)
	}
	return nil
}
