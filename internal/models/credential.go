package models

import "time"

// SecretType tags how a Secret's plaintext should be interpreted once
// decrypted. Mirrors inbox.models.secret.SecretType from the original
// source, renamed per SPEC_FULL.md §3 (External instead of AuthAlligator —
// that third-party-managed-secret backend is not part of this core).
type SecretType string

const (
	SecretTypePassword SecretType = "password"
	SecretTypeToken    SecretType = "token"
	SecretTypeExternal SecretType = "external"
)

// Secret is the at-rest form of a credential: ciphertext plus the scheme
// it was encrypted under, so a future re-key does not require decrypting
// every row under the same scheme.
type Secret struct {
	ID               int64
	Type             SecretType
	Ciphertext       []byte
	EncryptionScheme int
	UpdatedAt        time.Time
}

// Credential is the sum type described in SPEC_FULL.md §9: what the
// Credential Provider hands the Transport layer to authenticate with.
type Credential interface {
	credential()
}

// PasswordCredential carries a plaintext password; expires_in is
// conceptually infinite (§4.1).
type PasswordCredential struct {
	Password string
}

func (PasswordCredential) credential() {}

// AccessTokenCredential carries a bearer token with an expiration the
// caller must respect (cached with a 10s safety margin, §4.1).
type AccessTokenCredential struct {
	Value     string
	ExpiresAt time.Time
}

func (AccessTokenCredential) credential() {}

// ExpiresWithinMargin reports whether the token will expire at or before
// now+margin, matching the "now < expiration - 10s" cache-validity rule.
func (c AccessTokenCredential) ExpiresWithinMargin(now time.Time, margin time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-margin))
}

// OAuthTokenState is the persisted half of an OAuth2 account's credential:
// the refresh token and client registration needed to mint new access
// tokens, plus the most recently cached access token (if any). Grounded on
// inbox.models.backends.oauth.TokenManager.
type OAuthTokenState struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	CachedAccessToken *AccessTokenCredential
}
