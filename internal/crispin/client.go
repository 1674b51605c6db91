// Package crispin implements the Crispin Client (SPEC_FULL.md §4.4): a
// stateful wrapper around one authenticated IMAP session. Generic and
// Gmail accounts share this Client; Gmail additionally gets the
// label/thread operations in gmail.go.
package crispin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	imap "github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"

	"github.com/mjansen/mailsync/internal/models"
	"github.com/mjansen/mailsync/internal/transport"
)

// DefaultMaxMessageBodyLength bounds how large a message body this client
// will download; larger bodies are skipped to conserve bandwidth (§4.4
// `uids`). NewClient installs it on every Client; no exported setter
// changes it afterwards.
const DefaultMaxMessageBodyLength = 50 * 1024 * 1024

// UIDValidityCallback is invoked after every successful SELECT with the
// account, folder display name, and the select response, so the Engine
// can detect a UIDVALIDITY change (§4.4 `select_folder`).
type UIDValidityCallback func(accountID int64, folderName string, status *imap.MailboxStatus)

// Client wraps one *imapclient.Client for the duration of a Pool lease.
// It caches the currently selected folder name so select_folder_if_necessary
// can skip redundant SELECTs, and invalidates that cache on every new
// selection per §5's shared-resource policy.
type Client struct {
	AccountID int64
	Readonly  bool

	imapConn *imapclient.Client

	selected       string
	selectedStatus *imap.MailboxStatus

	folderSeparator string
	folderPrefix    string
	namespaceLoaded bool

	maxMessageBodyLength int64

	// smarterMailQuirk marks a server known to omit MODSEQ from CHANGEDSINCE
	// FETCH responses despite RFC 4551 requiring it (§4.4/§6). go-imap's
	// client does not surface the raw greeting banner the original
	// implementation sniffs for this, so detection is driven by the
	// account's configured host instead (see SetSmarterMailQuirk).
	smarterMailQuirk bool

	onUIDValidity UIDValidityCallback
}

// SetSmarterMailQuirk marks this session as talking to a SmarterMail
// server, enabling the explicit-MODSEQ workaround in
// CondstoreChangedFlags. Callers (the Engine, via account/host
// configuration) set this once after Dial.
func (c *Client) SetSmarterMailQuirk(on bool) { c.smarterMailQuirk = on }

// Dial connects and authenticates a new Client for the given account,
// honoring readonly (which the Pool uses to pick SELECT vs EXAMINE).
func Dial(ctx context.Context, account *models.Account, readonly bool, cred models.Credential, tcfg transport.Config, refresh transport.TokenRefreshFunc) (*Client, error) {
	conn, err := transport.Connect(ctx, tcfg)
	if err != nil {
		return nil, err
	}
	if err := transport.Authenticate(ctx, conn, account.DefaultIMAPUsername(), cred, refresh); err != nil {
		_ = conn.Logout()
		return nil, err
	}
	return NewClient(conn, account.ID, readonly), nil
}

// NewClient wraps an already-connected, already-authenticated IMAP session.
// Dial is the usual way to get one of these in production; this
// constructor exists so callers that already own a session (or, in
// tests, an in-process test server connection with no TLS to negotiate)
// can build a Client directly.
func NewClient(imapConn *imapclient.Client, accountID int64, readonly bool) *Client {
	return &Client{
		AccountID:            accountID,
		Readonly:             readonly,
		imapConn:             imapConn,
		maxMessageBodyLength: DefaultMaxMessageBodyLength,
	}
}

// Logout ends the IMAP session. Implements pool.Client.
func (c *Client) Logout() error {
	if err := c.imapConn.Logout(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// OnUIDValidity installs the callback select_folder invokes after a
// successful SELECT.
func (c *Client) OnUIDValidity(cb UIDValidityCallback) { c.onUIDValidity = cb }

// ListFolders returns every folder the server reports, excluding entries
// with no name (§4.4 `list_folders`).
func (c *Client) ListFolders(ctx context.Context) ([]models.RawFolder, error) {
	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() { done <- c.imapConn.List("", "*", mailboxes) }()

	var out []models.RawFolder
	for m := range mailboxes {
		if m.Name == "" {
			continue
		}
		attrs := make([]string, len(m.Attributes))
		copy(attrs, m.Attributes)
		out = append(out, models.RawFolder{
			DisplayName: m.Name,
			Delimiter:   m.Delimiter,
			Attributes:  attrs,
		})
	}
	if err := <-done; err != nil {
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("list folders: %w", err)}
	}

	if !c.namespaceLoaded {
		c.deriveFolderNaming(out)
	}
	return out, nil
}

// deriveFolderNaming computes folder_separator/folder_prefix the first
// time folders are listed (§4.4): the separator is the delimiter of the
// first listed folder (default "." if none reported). This client does
// not issue a NAMESPACE command, so the prefix is never derived and
// FolderPrefix always returns "".
func (c *Client) deriveFolderNaming(folders []models.RawFolder) {
	c.folderSeparator = "."
	for _, f := range folders {
		if f.Delimiter != "" {
			c.folderSeparator = f.Delimiter
			break
		}
	}
	c.namespaceLoaded = true
}

func (c *Client) FolderSeparator() string { return c.folderSeparator }
func (c *Client) FolderPrefix() string    { return c.folderPrefix }

// SelectFolder issues SELECT (or EXAMINE when Readonly), translates
// missing-mailbox errors into FolderMissingError, and fires the
// UIDValidityCallback on success.
func (c *Client) SelectFolder(ctx context.Context, name string) (*imap.MailboxStatus, error) {
	status, err := c.imapConn.Select(name, c.Readonly)
	if err != nil {
		if isFolderMissing(err) {
			return nil, &models.FolderMissingError{FolderName: name, Cause: err}
		}
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("select %s: %w", name, err)}
	}

	c.selected = name
	c.selectedStatus = status

	if c.onUIDValidity != nil {
		c.onUIDValidity(c.AccountID, name, status)
	}
	return status, nil
}

// SelectFolderIfNecessary skips the SELECT if name is already selected,
// unless requireFreshModSeq is set (the caller needs current
// HIGHESTMODSEQ and a cached selection may be stale).
func (c *Client) SelectFolderIfNecessary(ctx context.Context, name string, requireFreshModSeq bool) (*imap.MailboxStatus, error) {
	if !requireFreshModSeq && c.selected == name && c.selectedStatus != nil {
		return c.selectedStatus, nil
	}
	return c.SelectFolder(ctx, name)
}

func isFolderMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonexistent mailbox") ||
		strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "access denied")
}

// CondstoreSupported reports whether the session's capabilities include
// CONDSTORE or QRESYNC (detection only — QRESYNC's own extension commands
// are out of scope).
func (c *Client) CondstoreSupported() (bool, error) {
	caps, err := c.imapConn.Capability()
	if err != nil {
		return false, &models.ImapProtocolError{Cause: fmt.Errorf("capability: %w", err)}
	}
	return caps["CONDSTORE"] || caps["QRESYNC"], nil
}

// IdleSupported reports whether the session's capabilities include IDLE.
func (c *Client) IdleSupported() (bool, error) {
	caps, err := c.imapConn.Capability()
	if err != nil {
		return false, &models.ImapProtocolError{Cause: fmt.Errorf("capability: %w", err)}
	}
	return caps["IDLE"], nil
}

// normalizeUIDValidity coerces the MailboxStatus's UIDVALIDITY into the
// plain uint32 the Folder model stores.
func normalizeUIDValidity(status *imap.MailboxStatus) uint32 {
	return status.UidValidity
}

// parseDecimal is a small helper shared by the Gmail X-GM-MSGID/X-GM-THRID
// decoders, which IMAP transmits as decimal-string atoms.
func parseDecimal(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
