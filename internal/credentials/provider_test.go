package credentials

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/mjansen/mailsync/internal/crypto"
	"github.com/mjansen/mailsync/internal/models"
)

type fakeSecretStore struct {
	secrets map[int64]*models.Secret
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{secrets: make(map[int64]*models.Secret)}
}

func (s *fakeSecretStore) GetSecret(_ context.Context, secretID int64) (*models.Secret, error) {
	secret, ok := s.secrets[secretID]
	if !ok {
		t := &models.Secret{ID: secretID}
		return t, nil
	}
	return secret, nil
}

func (s *fakeSecretStore) UpdateSecret(_ context.Context, secretID int64, ciphertext []byte, scheme int) error {
	s.secrets[secretID] = &models.Secret{ID: secretID, Ciphertext: ciphertext, EncryptionScheme: scheme}
	return nil
}

type fakeRefresher struct {
	calls int
	tok   models.AccessTokenCredential
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ models.OAuthTokenState) (models.AccessTokenCredential, error) {
	f.calls++
	if f.err != nil {
		return models.AccessTokenCredential{}, f.err
	}
	return f.tok, nil
}

func testEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()
	key := make([]byte, 32)
	enc, err := crypto.NewEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("create test encryptor: %v", err)
	}
	return enc
}

func TestGetTokenPasswordAccount(t *testing.T) {
	enc := testEncryptor(t)
	secrets := newFakeSecretStore()

	ciphertext, err := enc.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	secrets.secrets[1] = &models.Secret{ID: 1, Type: models.SecretTypePassword, Ciphertext: ciphertext}

	p := NewProvider(secrets, enc, nil)
	account := &models.Account{ID: 1, AuthMode: models.AuthModePassword, CredentialID: 1}

	cred, err := p.GetToken(context.Background(), account, false)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	pw, ok := cred.(models.PasswordCredential)
	if !ok {
		t.Fatalf("expected PasswordCredential, got %T", cred)
	}
	if pw.Password != "hunter2" {
		t.Errorf("expected decrypted password %q, got %q", "hunter2", pw.Password)
	}
}

func TestGetTokenOAuthRefreshesAndCaches(t *testing.T) {
	enc := testEncryptor(t)
	secrets := newFakeSecretStore()

	state := models.OAuthTokenState{RefreshToken: "rt", ClientID: "id", ClientSecret: "secret"}
	ciphertext, scheme, err := encodeOAuthState(enc, state)
	if err != nil {
		t.Fatalf("encode oauth state: %v", err)
	}
	secrets.secrets[2] = &models.Secret{ID: 2, Type: models.SecretTypeToken, Ciphertext: ciphertext, EncryptionScheme: scheme}

	refresher := &fakeRefresher{tok: models.AccessTokenCredential{Value: "at1", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewProvider(secrets, enc, map[models.Provider]TokenRefresher{models.ProviderGmail: refresher})
	account := &models.Account{ID: 2, Provider: models.ProviderGmail, AuthMode: models.AuthModeOAuth2, CredentialID: 2}

	cred, err := p.GetToken(context.Background(), account, false)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	tok, ok := cred.(models.AccessTokenCredential)
	if !ok {
		t.Fatalf("expected AccessTokenCredential, got %T", cred)
	}
	if tok.Value != "at1" {
		t.Errorf("expected token value at1, got %q", tok.Value)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", refresher.calls)
	}

	// Second call within the cache window must not hit the refresher again.
	if _, err := p.GetToken(context.Background(), account, false); err != nil {
		t.Fatalf("GetToken (cached): %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("expected cached token to avoid a second refresh, got %d calls", refresher.calls)
	}
}

func TestGetTokenOAuthRefreshesWhenWithinSafetyMargin(t *testing.T) {
	enc := testEncryptor(t)
	secrets := newFakeSecretStore()

	state := models.OAuthTokenState{RefreshToken: "rt"}
	ciphertext, scheme, err := encodeOAuthState(enc, state)
	if err != nil {
		t.Fatalf("encode oauth state: %v", err)
	}
	secrets.secrets[3] = &models.Secret{ID: 3, EncryptionScheme: scheme, Ciphertext: ciphertext}

	refresher := &fakeRefresher{tok: models.AccessTokenCredential{Value: "fresh", ExpiresAt: time.Now().Add(time.Hour)}}
	p := NewProvider(secrets, enc, map[models.Provider]TokenRefresher{models.ProviderGmail: refresher})
	account := &models.Account{ID: 3, Provider: models.ProviderGmail, AuthMode: models.AuthModeOAuth2, CredentialID: 3}

	// Seed a cached token that expires within the 10s safety margin.
	p.cache[3] = models.AccessTokenCredential{Value: "stale", ExpiresAt: time.Now().Add(5 * time.Second)}

	cred, err := p.GetToken(context.Background(), account, false)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if tok := cred.(models.AccessTokenCredential); tok.Value != "fresh" {
		t.Errorf("expected stale-within-margin token to be refreshed, got %q", tok.Value)
	}
	if refresher.calls != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", refresher.calls)
	}
}

func TestGetTokenOAuthInvalidGrantIsNotRetried(t *testing.T) {
	enc := testEncryptor(t)
	secrets := newFakeSecretStore()

	state := models.OAuthTokenState{RefreshToken: "dead"}
	ciphertext, scheme, err := encodeOAuthState(enc, state)
	if err != nil {
		t.Fatalf("encode oauth state: %v", err)
	}
	secrets.secrets[4] = &models.Secret{ID: 4, EncryptionScheme: scheme, Ciphertext: ciphertext}

	refresher := &fakeRefresher{err: &models.OAuthInvalidGrantError{Reason: "invalid_grant"}}
	p := NewProvider(secrets, enc, map[models.Provider]TokenRefresher{models.ProviderGmail: refresher})
	account := &models.Account{ID: 4, Provider: models.ProviderGmail, AuthMode: models.AuthModeOAuth2, CredentialID: 4}

	if _, err := p.GetToken(context.Background(), account, false); err == nil {
		t.Fatal("expected an error for an invalid_grant refresh failure")
	}
	if refresher.calls != 1 {
		t.Errorf("expected no retry for a permanent oauth error, got %d calls", refresher.calls)
	}
}
