package models

import "fmt"

// SyncError is the closed taxonomy of §7: the Client translates IMAP
// library errors into one of these exactly once; the Pool decides
// discard-or-retain solely from the concrete type; the Engine is written
// against this interface and never against a raw library error type.
type SyncError interface {
	error
	syncError()
}

// PoolTimeoutError is raised when Pool.Get's semaphore wait exceeds its
// deadline (§4.3 step 1).
type PoolTimeoutError struct {
	AccountID int64
	Readonly  bool
}

func (e *PoolTimeoutError) Error() string {
	return fmt.Sprintf("pool timeout: account %d readonly=%v", e.AccountID, e.Readonly)
}
func (*PoolTimeoutError) syncError() {}

// NetworkError wraps a socket/TLS failure. The Pool discards the
// connection without attempting logout.
type NetworkError struct{ Cause error }

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Cause) }
func (e *NetworkError) Unwrap() error { return e.Cause }
func (*NetworkError) syncError()      {}

// ImapAbortError wraps a server-initiated abort. The Pool discards the
// connection without attempting logout.
type ImapAbortError struct{ Cause error }

func (e *ImapAbortError) Error() string { return fmt.Sprintf("imap abort: %v", e.Cause) }
func (e *ImapAbortError) Unwrap() error { return e.Cause }
func (*ImapAbortError) syncError()      {}

// ImapProtocolError wraps a parseable IMAP-level error response. Callers
// may have a per-operation fallback (e.g. all_uids' SEARCH workarounds);
// otherwise it propagates and the Pool attempts a logout before discard.
type ImapProtocolError struct{ Cause error }

func (e *ImapProtocolError) Error() string { return fmt.Sprintf("imap protocol error: %v", e.Cause) }
func (e *ImapProtocolError) Unwrap() error { return e.Cause }
func (*ImapProtocolError) syncError()      {}

// FolderMissingError is raised when SELECT/EXAMINE reports the mailbox
// does not exist or access is denied. The Engine treats this as terminal
// (MailsyncDone).
type FolderMissingError struct {
	FolderName string
	Cause      error
}

func (e *FolderMissingError) Error() string {
	return fmt.Sprintf("folder missing: %s: %v", e.FolderName, e.Cause)
}
func (e *FolderMissingError) Unwrap() error { return e.Cause }
func (*FolderMissingError) syncError()      {}

// UidInvalidError is raised by the Engine's poll step when UIDVALIDITY has
// changed since the last recorded value.
type UidInvalidError struct {
	FolderID int64
	Old, New uint32
}

func (e *UidInvalidError) Error() string {
	return fmt.Sprintf("uidvalidity changed for folder %d: %d -> %d", e.FolderID, e.Old, e.New)
}
func (*UidInvalidError) syncError() {}

// InvalidCredentialsError is raised when a LOGIN/AUTHENTICATE failure
// message matches one of the known auth-invalid prefixes (§6).
type InvalidCredentialsError struct{ ServerMessage string }

func (e *InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials: %s", e.ServerMessage)
}
func (*InvalidCredentialsError) syncError() {}

// AppPasswordRequiredError is raised when the server's auth failure
// message indicates it wants an application-specific password or token
// rather than the account's normal password (§6).
type AppPasswordRequiredError struct{ ServerMessage string }

func (e *AppPasswordRequiredError) Error() string {
	return fmt.Sprintf("app password required: %s", e.ServerMessage)
}
func (*AppPasswordRequiredError) syncError() {}

// OAuthInvalidGrantError is raised when the token endpoint reports
// invalid_grant or deleted_client; the account's refresh token is no
// longer usable.
type OAuthInvalidGrantError struct{ Reason string }

func (e *OAuthInvalidGrantError) Error() string {
	return fmt.Sprintf("oauth invalid grant: %s", e.Reason)
}
func (*OAuthInvalidGrantError) syncError() {}

// OAuthTransientError is raised when a token refresh fails for a reason
// that looks like a temporary network or server problem; the Credential
// Provider retries exactly once before giving up.
type OAuthTransientError struct{ Cause error }

func (e *OAuthTransientError) Error() string { return fmt.Sprintf("oauth transient error: %v", e.Cause) }
func (e *OAuthTransientError) Unwrap() error { return e.Cause }
func (*OAuthTransientError) syncError()      {}

// GmailSettingError is raised when a Gmail account has no "all" folder,
// meaning IMAP access has not been enabled in Gmail's settings.
type GmailSettingError struct{ Detail string }

func (e *GmailSettingError) Error() string { return fmt.Sprintf("gmail setting error: %s", e.Detail) }
func (*GmailSettingError) syncError()      {}

// DraftDeletionConflictError is raised when a Gmail draft/sent deletion
// cannot establish, via X-GM-MSGID, that the sent-copy reconciliation
// produced a distinct message. The caller must not delete.
type DraftDeletionConflictError struct{ GMsgID string }

func (e *DraftDeletionConflictError) Error() string {
	return fmt.Sprintf("draft deletion conflict: g_msgid=%s not yet reconciled", e.GMsgID)
}
func (*DraftDeletionConflictError) syncError() {}

// MailsyncDone is the terminal, non-error step result for a Folder Sync
// Engine instance (§4.6, §9): it is returned, not raised, by the engine's
// step function, and the supervising Account Monitor matches on its
// Reason rather than treating it as a failure to retry.
type MailsyncDone struct {
	Reason string
}

func (d *MailsyncDone) Error() string { return fmt.Sprintf("mailsync done: %s", d.Reason) }
