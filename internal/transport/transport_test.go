package transport

import (
	"errors"
	"testing"

	"github.com/mjansen/mailsync/internal/models"
)

func TestClassifyAuthFailure(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    any
	}{
		{"bracketed authenticationfailed", "[AUTHENTICATIONFAILED] Invalid credentials", &models.InvalidCredentialsError{}},
		{"incorrect username or password", "Incorrect username or password", &models.InvalidCredentialsError{}},
		{"generic authentication failed", "Authentication failed", &models.InvalidCredentialsError{}},
		{"login incorrect", "LOGIN incorrect", &models.InvalidCredentialsError{}},
		{"app password phrase", "Please using authorized code to login.", &models.AppPasswordRequiredError{}},
		{"weixin token phrase", "Login fail. Please using weixin token", &models.AppPasswordRequiredError{}},
		{"unrecognized message", "Mailbox busy, try again later", &models.ImapProtocolError{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyAuthFailure(errors.New(tc.message))
			switch tc.want.(type) {
			case *models.InvalidCredentialsError:
				var target *models.InvalidCredentialsError
				if !errors.As(err, &target) {
					t.Fatalf("expected InvalidCredentialsError, got %T (%v)", err, err)
				}
			case *models.AppPasswordRequiredError:
				var target *models.AppPasswordRequiredError
				if !errors.As(err, &target) {
					t.Fatalf("expected AppPasswordRequiredError, got %T (%v)", err, err)
				}
			case *models.ImapProtocolError:
				var target *models.ImapProtocolError
				if !errors.As(err, &target) {
					t.Fatalf("expected ImapProtocolError, got %T (%v)", err, err)
				}
			}
		})
	}
}

func TestAppPasswordRequiredPrefixMatch(t *testing.T) {
	err := classifyAuthFailure(errors.New("Authorized code is incorrect"))
	var target *models.AppPasswordRequiredError
	if !errors.As(err, &target) {
		t.Fatalf("expected AppPasswordRequiredError, got %T (%v)", err, err)
	}
}

func TestConfigAddrAndTimeoutDefaults(t *testing.T) {
	cfg := Config{Host: "imap.example.com", Port: 993}
	if got, want := cfg.addr(), "imap.example.com:993"; got != want {
		t.Errorf("addr() = %q, want %q", got, want)
	}
	if cfg.dialTimeout() <= 0 {
		t.Error("expected a positive default dial timeout")
	}
}

func TestConfigTLSInsecureByDefault(t *testing.T) {
	cfg := Config{Host: "imap.example.com", Port: 993}
	tc := cfg.tlsConfig()
	if !tc.InsecureSkipVerify {
		t.Error("expected certificate verification disabled by default (StrictTLS not set)")
	}

	strict := Config{Host: "imap.example.com", Port: 993, StrictTLS: true}
	if strict.tlsConfig().InsecureSkipVerify {
		t.Error("expected StrictTLS=true to enable certificate verification")
	}
}

func TestXOAuth2ClientInitialResponse(t *testing.T) {
	c := &xoauth2Client{username: "user@example.com", token: "tok123"}
	mech, ir, err := c.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mech != "XOAUTH2" {
		t.Errorf("mech = %q, want XOAUTH2", mech)
	}
	want := "user=user@example.com\x01auth=Bearer tok123\x01\x01"
	if string(ir) != want {
		t.Errorf("initial response = %q, want %q", ir, want)
	}
}
