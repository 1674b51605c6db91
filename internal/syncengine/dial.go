package syncengine

import (
	"context"
	"strings"
	"time"

	"github.com/mjansen/mailsync/internal/credentials"
	"github.com/mjansen/mailsync/internal/crispin"
	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/pool"
	"github.com/mjansen/mailsync/internal/transport"
)

// NewDialer builds the pool.Dialer every account's connection pools use to
// build fresh Clients: it resolves a Credential via the Credential
// Provider, dials and authenticates through internal/transport, and wraps
// Gmail accounts in a GmailClient (§4.2, §4.3, §4.4).
func NewDialer(provider *credentials.Provider, dialTimeout time.Duration) pool.Dialer {
	return func(ctx context.Context, account *models.Account, readonly bool) (pool.Client, error) {
		cred, err := provider.GetToken(ctx, account, false)
		if err != nil {
			return nil, err
		}

		tcfg := transport.Config{
			Host:        account.IMAPHost,
			Port:        account.IMAPPort,
			StrictTLS:   account.StrictTLS,
			DialTimeout: dialTimeout,
		}

		refresh := func(ctx context.Context) (models.AccessTokenCredential, error) {
			forced, err := provider.GetToken(ctx, account, true)
			if err != nil {
				return models.AccessTokenCredential{}, err
			}
			tok, ok := forced.(models.AccessTokenCredential)
			if !ok {
				return models.AccessTokenCredential{}, &models.InvalidCredentialsError{ServerMessage: "forced refresh returned a non-token credential"}
			}
			return tok, nil
		}

		c, err := crispin.Dial(ctx, account, readonly, cred, tcfg, refresh)
		if err != nil {
			return nil, err
		}
		if account.SmarterMailQuirk || looksLikeSmarterMail(account.IMAPHost) {
			c.SetSmarterMailQuirk(true)
		}

		if account.Provider == models.ProviderGmail {
			return crispin.NewGmailClient(c), nil
		}
		return c, nil
	}
}

func looksLikeSmarterMail(host string) bool {
	return strings.Contains(strings.ToLower(host), "smartermail")
}
