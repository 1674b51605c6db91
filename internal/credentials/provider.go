// Package credentials implements the Credential Provider (SPEC_FULL.md
// §4.1): it returns a fresh usable credential for an account, transparently
// refreshing OAuth2 access tokens and caching them with a safety margin.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mjansen/mailsync/internal/crypto"
	"github.com/mjansen/mailsync/internal/models"
)

// expirationSafetyMargin is the "now < expiration - 10s" rule of §4.1.
const expirationSafetyMargin = 10 * time.Second

// SecretStore is the persistence half of the Credential Provider: it reads
// and writes the encrypted Secret row backing one account's credential.
// Kept as a narrow interface so tests can fake it without a database.
type SecretStore interface {
	GetSecret(ctx context.Context, secretID int64) (*models.Secret, error)
	UpdateSecret(ctx context.Context, secretID int64, ciphertext []byte, scheme int) error
}

// TokenRefresher performs the provider-specific OAuth2 refresh-token
// exchange. internal/credentials/oauth.go's oauth2Refresher, built by
// NewGoogleRefresher/NewMicrosoftRefresher, implements this against the
// real token endpoints.
type TokenRefresher interface {
	Refresh(ctx context.Context, state models.OAuthTokenState) (models.AccessTokenCredential, error)
}

// Provider is the Credential Provider. One Provider instance is shared by
// every account in the process; per-account OAuth2 token caching is keyed
// internally.
type Provider struct {
	secrets   SecretStore
	encryptor *crypto.Encryptor
	refreshers map[models.Provider]TokenRefresher

	mu    sync.Mutex
	cache map[int64]models.AccessTokenCredential // keyed by account id
}

func NewProvider(secrets SecretStore, encryptor *crypto.Encryptor, refreshers map[models.Provider]TokenRefresher) *Provider {
	return &Provider{
		secrets:    secrets,
		encryptor:  encryptor,
		refreshers: refreshers,
		cache:      make(map[int64]models.AccessTokenCredential),
	}
}

// GetToken returns a usable credential for the account, refreshing an
// OAuth2 access token if the cached one is within the expiration safety
// margin (or forceRefresh is set) (§4.1).
func (p *Provider) GetToken(ctx context.Context, account *models.Account, forceRefresh bool) (models.Credential, error) {
	if account.AuthMode == models.AuthModePassword {
		secret, err := p.secrets.GetSecret(ctx, account.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("load password secret for account %d: %w", account.ID, err)
		}
		plaintext, err := p.encryptor.Decrypt(secret.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt password secret for account %d: %w", account.ID, err)
		}
		return models.PasswordCredential{Password: plaintext}, nil
	}

	return p.getOAuthToken(ctx, account, forceRefresh)
}

func (p *Provider) getOAuthToken(ctx context.Context, account *models.Account, forceRefresh bool) (models.Credential, error) {
	now := time.Now()

	if !forceRefresh {
		p.mu.Lock()
		cached, ok := p.cache[account.ID]
		p.mu.Unlock()
		if ok && !cached.ExpiresWithinMargin(now, expirationSafetyMargin) {
			return cached, nil
		}
	}

	state, err := p.loadOAuthState(ctx, account)
	if err != nil {
		return nil, err
	}

	refresher, ok := p.refreshers[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no oauth2 refresher configured for provider %q", account.Provider)
	}

	var fresh models.AccessTokenCredential
	op := func() error {
		var refreshErr error
		fresh, refreshErr = refresher.Refresh(ctx, state)
		if refreshErr == nil {
			return nil
		}
		if _, transient := refreshErr.(*models.OAuthTransientError); transient {
			return refreshErr // retryable
		}
		return backoff.Permanent(refreshErr)
	}

	// §4.1: a TransientNetwork failure is retried once; anything else
	// (InvalidGrant, DeletedClient, MalformedResponse-after-one-retry) is
	// fatal immediately or after that single retry.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 1)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("refresh oauth2 token for account %d: %w", account.ID, err)
	}

	p.mu.Lock()
	p.cache[account.ID] = fresh
	p.mu.Unlock()

	if err := p.persistCachedToken(ctx, account, fresh); err != nil {
		return nil, err
	}

	return fresh, nil
}

func (p *Provider) loadOAuthState(ctx context.Context, account *models.Account) (models.OAuthTokenState, error) {
	secret, err := p.secrets.GetSecret(ctx, account.CredentialID)
	if err != nil {
		return models.OAuthTokenState{}, fmt.Errorf("load oauth secret for account %d: %w", account.ID, err)
	}
	state, err := decodeOAuthState(p.encryptor, secret)
	if err != nil {
		return models.OAuthTokenState{}, fmt.Errorf("decode oauth secret for account %d: %w", account.ID, err)
	}
	return state, nil
}

func (p *Provider) persistCachedToken(ctx context.Context, account *models.Account, token models.AccessTokenCredential) error {
	secret, err := p.secrets.GetSecret(ctx, account.CredentialID)
	if err != nil {
		return fmt.Errorf("reload oauth secret for account %d: %w", account.ID, err)
	}
	state, err := decodeOAuthState(p.encryptor, secret)
	if err != nil {
		return fmt.Errorf("decode oauth secret for account %d: %w", account.ID, err)
	}
	state.CachedAccessToken = &token

	ciphertext, scheme, err := encodeOAuthState(p.encryptor, state)
	if err != nil {
		return fmt.Errorf("encode oauth secret for account %d: %w", account.ID, err)
	}
	if err := p.secrets.UpdateSecret(ctx, account.CredentialID, ciphertext, scheme); err != nil {
		return fmt.Errorf("persist cached oauth token for account %d: %w", account.ID, err)
	}
	return nil
}
