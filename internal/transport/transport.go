// Package transport implements the IMAP Transport layer (SPEC_FULL.md
// §4.2): TLS-validated connection establishment and LOGIN/XOAUTH2
// authentication, including the server-message classification carve-outs
// of §6/§7.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/mjansen/mailsync/internal/models"
)

// Config controls how one account's connections are dialed and verified.
// Per the resolved Open Question in SPEC_FULL.md §9, certificate
// verification stays disabled by default; StrictTLS is the explicit,
// per-account opt-in.
type Config struct {
	Host        string
	Port        int
	StrictTLS   bool
	DialTimeout time.Duration
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 10 * time.Second
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

func (c Config) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: !c.StrictTLS,
	}
}

// Connect dials the server and brings the connection to an authenticated
// TLS state: implicit TLS on port 993, otherwise plain TCP upgraded via
// STARTTLS (§6). A server that offers neither is a hard failure — this
// core never falls back to sending credentials over an unencrypted
// channel.
func Connect(ctx context.Context, cfg Config) (*client.Client, error) {
	dialer := &net.Dialer{Timeout: cfg.dialTimeout()}

	if cfg.Port == 993 {
		c, err := client.DialWithDialerTLS(dialer, cfg.addr(), cfg.tlsConfig())
		if err != nil {
			return nil, &models.NetworkError{Cause: fmt.Errorf("dial implicit tls %s: %w", cfg.addr(), err)}
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, cfg.addr())
	if err != nil {
		return nil, &models.NetworkError{Cause: fmt.Errorf("dial %s: %w", cfg.addr(), err)}
	}

	supported, err := c.SupportStartTLS()
	if err != nil {
		_ = c.Logout()
		return nil, &models.NetworkError{Cause: fmt.Errorf("check starttls support: %w", err)}
	}
	if !supported {
		_ = c.Logout()
		return nil, &models.NetworkError{Cause: fmt.Errorf("%s: SSLNotSupported", cfg.addr())}
	}
	if err := c.StartTLS(cfg.tlsConfig()); err != nil {
		_ = c.Logout()
		return nil, &models.NetworkError{Cause: fmt.Errorf("starttls upgrade: %w", err)}
	}
	return c, nil
}

// TokenRefreshFunc asks the Credential Provider for a fresh (non-cached)
// access token, used for the single retry after an XOAUTH2 failure (§6).
type TokenRefreshFunc func(ctx context.Context) (models.AccessTokenCredential, error)

// Authenticate logs in with either a plaintext password or XOAUTH2,
// translating server rejections into the closed SyncError taxonomy.
func Authenticate(ctx context.Context, c *client.Client, username string, cred models.Credential, refresh TokenRefreshFunc) error {
	switch creds := cred.(type) {
	case models.PasswordCredential:
		if err := c.Login(username, creds.Password); err != nil {
			return classifyAuthFailure(err)
		}
		return nil

	case models.AccessTokenCredential:
		if err := authenticateXOAuth2(c, username, creds.Value); err == nil {
			return nil
		}

		// §6: a single XOAUTH2 failure triggers exactly one forced token
		// refresh and retry; a second failure is fatal.
		if refresh == nil {
			return &models.OAuthTransientError{Cause: fmt.Errorf("xoauth2 rejected and no refresh available")}
		}
		fresh, err := refresh(ctx)
		if err != nil {
			return err
		}
		if err := authenticateXOAuth2(c, username, fresh.Value); err != nil {
			return classifyAuthFailure(err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported credential type %T", cred)
	}
}

func authenticateXOAuth2(c *client.Client, username, token string) error {
	return c.Authenticate(&xoauth2Client{username: username, token: token})
}

// xoauth2Client implements go-sasl's Client interface for RFC 7628's
// XOAUTH2 mechanism: a single initial response, no further challenges on
// success.
type xoauth2Client struct {
	username string
	token    string
	done     bool
}

func (x *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", x.username, x.token))
	return "XOAUTH2", ir, nil
}

func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if x.done {
		return nil, nil
	}
	x.done = true
	// A non-empty challenge here is the server's base64-JSON error detail;
	// an empty continuation response lets the exchange fail cleanly so the
	// IMAP client surfaces the underlying NO/BAD status.
	return []byte{}, nil
}

// invalidCredentialPrefixes and appPasswordPrefixes are verbatim from §7 —
// case-insensitive, anchored at the start of the server's message text.
var invalidCredentialPrefixes = []string{
	"[authenticationfailed]",
	"incorrect username or password",
	"invalid login or password",
	"login login error password error",
	"[auth] authentication failed.",
	"invalid login credentials",
	"[alert] please log in via your web browser",
	"login authentication failed",
	"authentication failed",
	"[alert] invalid credentials(failure)",
	"invalid email login",
	"failed: re-authentication failure",
	"invalid",
	"login incorrect",
	"login groupwise login failed",
	"login bad",
	"[authorizationfailed]",
	"incorrect password",
}

var appPasswordPrefixes = []string{
	"please using authorized code to login.",
	"authorized code is incorrect",
	"login fail. please using weixin token",
}

// classifyAuthFailure turns a LOGIN/AUTHENTICATE error from the go-imap
// library into InvalidCredentialsError or AppPasswordRequiredError when
// the server's message matches a known prefix, otherwise wraps it as a
// generic ImapProtocolError.
func classifyAuthFailure(err error) error {
	msg := strings.ToLower(strings.TrimSpace(err.Error()))

	for _, prefix := range appPasswordPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return &models.AppPasswordRequiredError{ServerMessage: err.Error()}
		}
	}
	for _, prefix := range invalidCredentialPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return &models.InvalidCredentialsError{ServerMessage: err.Error()}
		}
	}
	return &models.ImapProtocolError{Cause: err}
}
