package models

import "time"

// Role is the canonical category a Folder is classified into by the
// catalog, independent of its server-side display name or localization.
type Role string

const (
	RoleInbox     Role = "inbox"
	RoleSent      Role = "sent"
	RoleTrash     Role = "trash"
	RoleSpam      Role = "spam"
	RoleDrafts    Role = "drafts"
	RoleAll       Role = "all"
	RoleImportant Role = "important"
	RoleStarred   Role = "starred"
	RoleArchive   Role = "archive"
)

// SystemRoles are the roles the catalog tries to fill by a unique
// localized-name guess when no exact name or flag assigned them (§4.5).
var SystemRoles = []Role{RoleInbox, RoleSent, RoleTrash, RoleSpam}

// Phase is the Folder Sync Engine's coarse state for one folder (§4.6).
type Phase string

const (
	PhaseInitial Phase = "initial"
	PhasePoll    Phase = "poll"
)

// SyncStatus is the persistent, per-folder progress record the Engine reads
// and writes every pass. It is the only state a restarted Engine needs to
// resume exactly where it left off.
type SyncStatus struct {
	UIDValidity      uint32
	UIDNext          uint64
	HighestModSeq    uint64
	Phase            Phase
	SyncShouldRun    bool
	LastSlowRefresh  time.Time
	InitialSyncStart *time.Time
	InitialSyncEnd   *time.Time
	// UIDInvalidResyncs counts how many times resync_uids has fired for
	// this folder; MailsyncDone is raised once it exceeds
	// MaxUIDInvalidResyncs (§4.6).
	UIDInvalidResyncs int
}

// Folder belongs to exactly one Account. (AccountID, DisplayName) is
// unique.
type Folder struct {
	ID          int64
	AccountID   int64
	DisplayName string
	Role        *Role

	Status SyncStatus
}

// IsDraftsRole reports whether this folder's role permits save_draft (§4.4).
func (f *Folder) IsDraftsRole() bool {
	return f.Role != nil && *f.Role == RoleDrafts
}
