// Package models holds the data shapes shared by every layer of the sync
// core: accounts, folders, messages, and the transient records a FETCH or
// SEARCH response is first decoded into.
package models

import "time"

// Provider identifies the mail service an Account talks to, which in turn
// selects the folder-role heuristics (catalog) and OAuth2 endpoints
// (credentials) to use.
type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderMicrosoft Provider = "microsoft"
	ProviderCustom    Provider = "custom"
)

// AuthMode selects how the Credential Provider resolves a usable credential
// for an Account.
type AuthMode string

const (
	AuthModePassword AuthMode = "password"
	AuthModeOAuth2   AuthMode = "oauth2"
)

// SyncState is the externally-visible lifecycle state of an Account. The
// core only ever writes sync-status fields; account identity and
// credentials are owned by the caller.
type SyncState string

const (
	SyncStateRunning SyncState = "running"
	SyncStateStopped SyncState = "stopped"
	SyncStateInvalid SyncState = "invalid"
	SyncStateKilled  SyncState = "killed"
)

// Account is the root of everything the core touches for one mailbox.
// Identity, provider, and credential handle are set by an external caller;
// the core reads them and mutates only the sync-status fields documented
// below.
type Account struct {
	ID       int64
	EmailAddress string
	Provider Provider
	AuthMode AuthMode

	IMAPHost string
	IMAPPort int
	// IMAPUsername defaults to EmailAddress when empty; some providers
	// (QQ, 163, generic IMAP) authenticate with a distinct username.
	IMAPUsername string

	// CredentialID references the Secret this account's password or OAuth2
	// refresh token is stored under (internal/credentials).
	CredentialID int64

	// Throttled shrinks the readonly pool to size 1 (§4.3).
	Throttled bool

	// StrictTLS enables certificate verification for this account's IMAP
	// connection. Off by default (self-signed/internal IMAP servers are
	// common in the wild); an explicit per-account opt-in resolves the
	// Open Question of whether verification should ever be mandatory
	// (§4.2, §6).
	StrictTLS bool

	// SmarterMailQuirk marks this account's host as a SmarterMail server
	// known to omit MODSEQ from CHANGEDSINCE FETCH responses (§4.4/§6).
	SmarterMailQuirk bool

	SyncState SyncState

	// FolderSeparator and FolderPrefix are the values stored on the account
	// row. Nothing in this module derives or writes them: the crispin Client
	// keeps its own separator, taken from LIST (default "."), and no prefix.
	FolderSeparator string
	FolderPrefix    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultIMAPUsername returns IMAPUsername if set, otherwise EmailAddress.
func (a *Account) DefaultIMAPUsername() string {
	if a.IMAPUsername != "" {
		return a.IMAPUsername
	}
	return a.EmailAddress
}
