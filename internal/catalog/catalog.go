// Package catalog assigns canonical roles to a server's raw folder list
// and orders the result for syncing (SPEC_FULL.md §4.5).
package catalog

import (
	"fmt"
	"strings"

	"github.com/mjansen/mailsync/internal/models"
)

// defaultFolderMap is the generic display-name → role mapping tried before
// any provider-specific or flag-based assignment.
var defaultFolderMap = map[string]models.Role{
	"inbox":       models.RoleInbox,
	"drafts":      models.RoleDrafts,
	"draft":       models.RoleDrafts,
	"entwürfe":    models.RoleDrafts,
	"junk":        models.RoleSpam,
	"spam":        models.RoleSpam,
	"archive":     models.RoleArchive,
	"archiv":      models.RoleArchive,
	"sent":        models.RoleSent,
	"sent items":  models.RoleSent,
	"trash":       models.RoleTrash,
}

// flagMap maps a LIST response attribute to a role; tried after the
// default and provider maps fail to classify a folder.
var flagMap = map[string]models.Role{
	`\Trash`:  models.RoleTrash,
	`\Sent`:   models.RoleSent,
	`\Drafts`: models.RoleDrafts,
	`\Junk`:   models.RoleSpam,
	`\Inbox`:  models.RoleInbox,
	`\Spam`:   models.RoleSpam,
}

// gmailFlagMap is the Gmail variant of flagMap: Gmail additionally reports
// \Important/\Flagged, and \All/\Inbox are handled specially below rather
// than through this table.
var gmailFlagMap = map[string]models.Role{
	`\Drafts`:    models.RoleDrafts,
	`\Important`: models.RoleImportant,
	`\Sent`:      models.RoleSent,
	`\Junk`:      models.RoleSpam,
	`\Flagged`:   models.RoleStarred,
	`\Trash`:     models.RoleTrash,
}

// ProviderFolderMaps lets a provider override the default display-name →
// role mapping (e.g. a host that calls its Trash "Deleted Items"). No
// concrete provider overrides were present in the retrieved corpus; the
// map exists so one can be added per models.Provider without touching the
// assignment algorithm.
var ProviderFolderMaps = map[models.Provider]map[string]models.Role{}

// localizedSystemRoleNames maps a role to display names observed for it in
// non-English IMAP servers, used only as the last-resort guess pass when a
// system role has no flag- or name-based assignment.
var localizedSystemRoleNames = map[models.Role][]string{
	models.RoleTrash: {"papierkorb", "corbeille", "cestino", "papelera", "deleted items", "deleted messages"},
	models.RoleSpam:  {"spam", "junk-e-mail", "courrier indésirable", "posta indesiderata"},
	models.RoleSent:  {"gesendete objekte", "objets envoyés", "elementi inviati", "elementos enviados", "sent messages"},
	models.RoleInbox: {"posteingang", "boîte de réception", "posta in arrivo", "bandeja de entrada"},
}

// AssignRoles classifies every raw folder from Client.ListFolders into a
// models.Role, following §4.5's ordered rules. \Noselect/\NoSelect/
// \NonExistent folders are dropped from the result entirely.
func AssignRoles(provider models.Provider, raw []models.RawFolder) []models.RawFolder {
	selectable := make([]models.RawFolder, 0, len(raw))
	for _, f := range raw {
		if hasAttr(f.Attributes, `\Noselect`) || hasAttr(f.Attributes, `\NoSelect`) || hasAttr(f.Attributes, `\NonExistent`) {
			continue
		}
		selectable = append(selectable, f)
	}

	assigned := make([]models.RawFolder, len(selectable))
	for i, f := range selectable {
		if provider == models.ProviderGmail {
			assigned[i] = processGmailFolder(f)
		} else {
			assigned[i] = processFolder(provider, f)
		}
	}

	guessMissingSystemRoles(assigned)
	return assigned
}

func processFolder(provider models.Provider, f models.RawFolder) models.RawFolder {
	lower := strings.ToLower(f.DisplayName)

	if role, ok := defaultFolderMap[lower]; ok {
		return withRole(f, role)
	}
	if providerMap, ok := ProviderFolderMaps[provider]; ok {
		if role, ok := providerMap[f.DisplayName]; ok {
			return withRole(f, role)
		}
	}
	for _, attr := range f.Attributes {
		if role, ok := flagMap[attr]; ok {
			return withRole(f, role)
		}
	}
	return f
}

// processGmailFolder applies Gmail's \All-wins and inbox-normalization
// rules on top of the generic flag-based assignment (§4.5 step 3).
func processGmailFolder(f models.RawFolder) models.RawFolder {
	if hasAttr(f.Attributes, `\All`) {
		return withRole(f, models.RoleAll)
	}
	if strings.ToLower(f.DisplayName) == "inbox" {
		f.DisplayName = "Inbox"
		return withRole(f, models.RoleInbox)
	}
	for _, attr := range f.Attributes {
		if role, ok := gmailFlagMap[attr]; ok {
			return withRole(f, role)
		}
	}
	return f
}

// guessMissingSystemRoles fills in any of models.SystemRoles still
// unassigned after the main pass, by matching display names against
// localizedSystemRoleNames. A guess is only applied when exactly one
// folder matches, per §4.5 step 4 ("assign only when the guess is
// unique").
func guessMissingSystemRoles(folders []models.RawFolder) {
	present := make(map[models.Role]bool)
	for _, f := range folders {
		if f.Role != nil {
			present[*f.Role] = true
		}
	}

	for _, role := range models.SystemRoles {
		if present[role] {
			continue
		}
		names := localizedSystemRoleNames[role]
		if len(names) == 0 {
			continue
		}

		matchIndex := -1
		matchCount := 0
		for i, f := range folders {
			if f.Role != nil {
				continue
			}
			lower := strings.ToLower(f.DisplayName)
			for _, n := range names {
				if lower == n {
					matchCount++
					matchIndex = i
					break
				}
			}
		}
		if matchCount == 1 {
			folders[matchIndex] = withRole(folders[matchIndex], role)
		}
	}
}

func withRole(f models.RawFolder, role models.Role) models.RawFolder {
	r := role
	f.Role = &r
	return f
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}

// SyncOrder computes the folders to sync, in priority order (§4.5
// `sync_folders`). Generic accounts sync inbox first, then sent, then
// everything else in listed order. Gmail accounts require an "all" folder
// (its absence means IMAP access is disabled in Gmail's settings) and sync
// only all/trash/spam.
func SyncOrder(provider models.Provider, folders []models.RawFolder) ([]models.RawFolder, error) {
	if provider == models.ProviderGmail {
		return gmailSyncOrder(folders)
	}
	return genericSyncOrder(folders), nil
}

func genericSyncOrder(folders []models.RawFolder) []models.RawFolder {
	var inbox, sent, rest []models.RawFolder
	for _, f := range folders {
		switch {
		case f.Role != nil && *f.Role == models.RoleInbox:
			inbox = append(inbox, f)
		case f.Role != nil && *f.Role == models.RoleSent:
			sent = append(sent, f)
		default:
			rest = append(rest, f)
		}
	}
	out := make([]models.RawFolder, 0, len(folders))
	out = append(out, inbox...)
	out = append(out, sent...)
	out = append(out, rest...)
	return out
}

func gmailSyncOrder(folders []models.RawFolder) ([]models.RawFolder, error) {
	byRole := make(map[models.Role]models.RawFolder)
	for _, f := range folders {
		if f.Role == nil {
			continue
		}
		if _, exists := byRole[*f.Role]; !exists {
			byRole[*f.Role] = f
		}
	}

	if _, ok := byRole[models.RoleAll]; !ok {
		return nil, &models.GmailSettingError{
			Detail: fmt.Sprintf("no 'All Mail' folder found among %d listed folders; IMAP access is likely disabled in Gmail settings", len(folders)),
		}
	}

	var out []models.RawFolder
	for _, role := range []models.Role{models.RoleAll, models.RoleTrash, models.RoleSpam} {
		if f, ok := byRole[role]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}
