package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjansen/mailsync/internal/models"
)

// SecretStore implements credentials.SecretStore against a `secrets`
// table: encrypted ciphertext plus the scheme version it was sealed
// under, so a future re-key never has to guess how an older row was
// encrypted (§3, §4.1).
type SecretStore struct {
	pool *pgxpool.Pool
}

func NewSecretStore(pool *pgxpool.Pool) *SecretStore {
	return &SecretStore{pool: pool}
}

func (s *SecretStore) GetSecret(ctx context.Context, secretID int64) (*models.Secret, error) {
	sec := &models.Secret{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, ciphertext, encryption_scheme, updated_at
		FROM secrets WHERE id = $1`, secretID).
		Scan(&sec.ID, &sec.Type, &sec.Ciphertext, &sec.EncryptionScheme, &sec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("secret %d not found", secretID)
		}
		return nil, fmt.Errorf("get secret %d: %w", secretID, err)
	}
	return sec, nil
}

func (s *SecretStore) UpdateSecret(ctx context.Context, secretID int64, ciphertext []byte, scheme int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE secrets SET ciphertext = $2, encryption_scheme = $3, updated_at = now()
		WHERE id = $1`, secretID, ciphertext, scheme)
	if err != nil {
		return fmt.Errorf("update secret %d: %w", secretID, err)
	}
	return nil
}
