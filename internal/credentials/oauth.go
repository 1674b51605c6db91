package credentials

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/mjansen/mailsync/internal/models"
)

// oauth2Refresher is a TokenRefresher built on golang.org/x/oauth2's
// standard refresh-token grant, shared by every provider whose endpoint
// speaks the plain RFC 6749 refresh flow.
type oauth2Refresher struct {
	endpoint oauth2.Endpoint
}

// NewGoogleRefresher targets Google's OAuth2 token endpoint (Gmail
// accounts use XOAUTH2 over IMAP, authenticated with tokens from this
// flow).
func NewGoogleRefresher() TokenRefresher {
	return &oauth2Refresher{endpoint: google.Endpoint}
}

// NewMicrosoftRefresher targets Microsoft's v2.0 common-tenant token
// endpoint (Outlook/Office365 accounts).
func NewMicrosoftRefresher() TokenRefresher {
	return &oauth2Refresher{endpoint: microsoft.AzureADEndpoint("common")}
}

func (r *oauth2Refresher) Refresh(ctx context.Context, state models.OAuthTokenState) (models.AccessTokenCredential, error) {
	conf := &oauth2.Config{
		ClientID:     state.ClientID,
		ClientSecret: state.ClientSecret,
		Endpoint:     r.endpoint,
		Scopes:       state.Scopes,
	}
	if state.TokenURL != "" {
		conf.Endpoint.TokenURL = state.TokenURL
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: state.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return models.AccessTokenCredential{}, classifyOAuthError(err)
	}

	return models.AccessTokenCredential{
		Value:     tok.AccessToken,
		ExpiresAt: tok.Expiry,
	}, nil
}

// classifyOAuthError distinguishes a permanently dead refresh token from a
// transient failure worth one retry, per §6/§7's error taxonomy. The
// oauth2 package surfaces token-endpoint error bodies as *oauth2.RetrieveError.
func classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case strings.Contains(retrieveErr.ErrorCode, "invalid_grant"),
			strings.Contains(retrieveErr.ErrorCode, "deleted_client"):
			return &models.OAuthInvalidGrantError{Reason: retrieveErr.ErrorCode}
		case strings.Contains(retrieveErr.ErrorCode, "unauthorized_client"),
			strings.Contains(retrieveErr.ErrorCode, "invalid_client"):
			return &models.OAuthInvalidGrantError{Reason: retrieveErr.ErrorCode}
		default:
			return &models.OAuthTransientError{Cause: err}
		}
	}
	// Network-level failures (timeouts, DNS, connection refused) never
	// reach RetrieveError and are always worth the single retry.
	return &models.OAuthTransientError{Cause: err}
}
