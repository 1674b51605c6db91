package credentials

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mjansen/mailsync/internal/crypto"
	"github.com/mjansen/mailsync/internal/models"
)

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// oauthStateSchemeV1 is the only EncryptionScheme value this provider
// writes; it exists so a future re-key or wire-format change can be
// detected on read without guessing.
const oauthStateSchemeV1 = 1

// decodeOAuthState decrypts and unmarshals a Secret's ciphertext into the
// token state the Credential Provider needs to mint/refresh access tokens.
func decodeOAuthState(encryptor *crypto.Encryptor, secret *models.Secret) (models.OAuthTokenState, error) {
	if secret.EncryptionScheme != oauthStateSchemeV1 {
		return models.OAuthTokenState{}, fmt.Errorf("unsupported oauth secret encryption scheme %d", secret.EncryptionScheme)
	}
	plaintext, err := encryptor.Decrypt(secret.Ciphertext)
	if err != nil {
		return models.OAuthTokenState{}, fmt.Errorf("decrypt oauth secret: %w", err)
	}

	var wire oauthStateWire
	if err := json.Unmarshal([]byte(plaintext), &wire); err != nil {
		return models.OAuthTokenState{}, fmt.Errorf("unmarshal oauth secret: %w", err)
	}
	return wire.toState(), nil
}

// encodeOAuthState marshals and encrypts the token state back into a
// Secret's ciphertext/scheme pair for persistence.
func encodeOAuthState(encryptor *crypto.Encryptor, state models.OAuthTokenState) (ciphertext []byte, scheme int, err error) {
	wire := fromState(state)
	plaintext, err := json.Marshal(wire)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal oauth secret: %w", err)
	}
	ciphertext, err = encryptor.Encrypt(string(plaintext))
	if err != nil {
		return nil, 0, fmt.Errorf("encrypt oauth secret: %w", err)
	}
	return ciphertext, oauthStateSchemeV1, nil
}

// oauthStateWire is the JSON shape stored encrypted at rest. Kept distinct
// from models.OAuthTokenState so the wire format can evolve independently
// of the in-memory type.
type oauthStateWire struct {
	RefreshToken string   `json:"refresh_token"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`

	CachedAccessToken string `json:"cached_access_token,omitempty"`
	CachedExpiresAt   int64  `json:"cached_expires_at,omitempty"`
}

func fromState(s models.OAuthTokenState) oauthStateWire {
	w := oauthStateWire{
		RefreshToken: s.RefreshToken,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     s.TokenURL,
		Scopes:       s.Scopes,
	}
	if s.CachedAccessToken != nil {
		w.CachedAccessToken = s.CachedAccessToken.Value
		w.CachedExpiresAt = s.CachedAccessToken.ExpiresAt.Unix()
	}
	return w
}

func (w oauthStateWire) toState() models.OAuthTokenState {
	s := models.OAuthTokenState{
		RefreshToken: w.RefreshToken,
		ClientID:     w.ClientID,
		ClientSecret: w.ClientSecret,
		TokenURL:     w.TokenURL,
		Scopes:       w.Scopes,
	}
	if w.CachedAccessToken != "" {
		s.CachedAccessToken = &models.AccessTokenCredential{
			Value:     w.CachedAccessToken,
			ExpiresAt: unixTime(w.CachedExpiresAt),
		}
	}
	return s
}
