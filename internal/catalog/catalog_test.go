package catalog

import (
	"errors"
	"testing"

	"github.com/mjansen/mailsync/internal/models"
)

func roleOf(t *testing.T, folders []models.RawFolder, name string) *models.Role {
	t.Helper()
	for _, f := range folders {
		if f.DisplayName == name {
			return f.Role
		}
	}
	t.Fatalf("folder %q not found in %v", name, folders)
	return nil
}

func TestAssignRolesDropsNoselectFolders(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "INBOX"},
		{DisplayName: "[Gmail]", Attributes: []string{`\Noselect`, `\HasChildren`}},
	}
	got := AssignRoles(models.ProviderCustom, raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 folder after dropping \\Noselect, got %d: %v", len(got), got)
	}
	if got[0].DisplayName != "INBOX" {
		t.Fatalf("expected INBOX to survive, got %v", got)
	}
}

func TestAssignRolesGenericDefaultNameMap(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "INBOX"},
		{DisplayName: "Sent Items"},
		{DisplayName: "Trash"},
		{DisplayName: "Junk"},
		{DisplayName: "Notes"},
	}
	got := AssignRoles(models.ProviderCustom, raw)

	cases := map[string]models.Role{
		"INBOX":      models.RoleInbox,
		"Sent Items": models.RoleSent,
		"Trash":      models.RoleTrash,
		"Junk":       models.RoleSpam,
	}
	for name, want := range cases {
		role := roleOf(t, got, name)
		if role == nil || *role != want {
			t.Errorf("folder %q: got role %v, want %v", name, role, want)
		}
	}
	if role := roleOf(t, got, "Notes"); role != nil {
		t.Errorf("expected Notes to remain unassigned, got %v", *role)
	}
}

func TestAssignRolesFallsBackToFlagMap(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "Papierkorb", Attributes: []string{`\Trash`}},
	}
	got := AssignRoles(models.ProviderCustom, raw)
	role := roleOf(t, got, "Papierkorb")
	if role == nil || *role != models.RoleTrash {
		t.Fatalf("expected flag-based trash assignment, got %v", role)
	}
}

func TestAssignRolesGuessesUniqueLocalizedSystemRole(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "INBOX"},
		{DisplayName: "Sent Items"},
		{DisplayName: "papierkorb"},
	}
	got := AssignRoles(models.ProviderCustom, raw)
	role := roleOf(t, got, "papierkorb")
	if role == nil || *role != models.RoleTrash {
		t.Fatalf("expected localized guess to assign trash, got %v", role)
	}
}

func TestAssignRolesDoesNotGuessWhenAmbiguous(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "INBOX"},
		{DisplayName: "papierkorb"},
		{DisplayName: "corbeille"},
	}
	got := AssignRoles(models.ProviderCustom, raw)
	if role := roleOf(t, got, "papierkorb"); role != nil {
		t.Fatalf("expected ambiguous localized guess to be skipped, got %v", *role)
	}
	if role := roleOf(t, got, "corbeille"); role != nil {
		t.Fatalf("expected ambiguous localized guess to be skipped, got %v", *role)
	}
}

func TestAssignRolesGmailAllWinsOverOtherFlags(t *testing.T) {
	raw := []models.RawFolder{
		{DisplayName: "All Mail", Attributes: []string{`\All`, `\Important`}},
		{DisplayName: "inbox"},
		{DisplayName: "[Gmail]/Trash", Attributes: []string{`\Trash`}},
		{DisplayName: "[Gmail]/Spam", Attributes: []string{`\Junk`}},
	}
	got := AssignRoles(models.ProviderGmail, raw)

	role := roleOf(t, got, "All Mail")
	if role == nil || *role != models.RoleAll {
		t.Fatalf("expected All Mail to get the all role, got %v", role)
	}

	inboxRole := roleOf(t, got, "Inbox")
	if inboxRole == nil || *inboxRole != models.RoleInbox {
		t.Fatalf("expected inbox to be normalized to display name Inbox with inbox role, got %v", inboxRole)
	}
}

func TestSyncOrderGenericInboxThenSentThenRest(t *testing.T) {
	inboxRole, sentRole, trashRole := models.RoleInbox, models.RoleSent, models.RoleTrash
	folders := []models.RawFolder{
		{DisplayName: "Trash", Role: &trashRole},
		{DisplayName: "Sent", Role: &sentRole},
		{DisplayName: "INBOX", Role: &inboxRole},
		{DisplayName: "Notes"},
	}
	got, err := SyncOrder(models.ProviderCustom, folders)
	if err != nil {
		t.Fatalf("SyncOrder: %v", err)
	}
	want := []string{"INBOX", "Sent", "Trash", "Notes"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want order %v", got, want)
	}
	for i, name := range want {
		if got[i].DisplayName != name {
			t.Fatalf("position %d: got %q, want %q (full: %v)", i, got[i].DisplayName, name, got)
		}
	}
}

func TestSyncOrderGmailRequiresAllFolder(t *testing.T) {
	inboxRole := models.RoleInbox
	folders := []models.RawFolder{{DisplayName: "Inbox", Role: &inboxRole}}

	_, err := SyncOrder(models.ProviderGmail, folders)
	if err == nil {
		t.Fatal("expected GmailSettingError when no all folder is present")
	}
	var settingErr *models.GmailSettingError
	if !errors.As(err, &settingErr) {
		t.Fatalf("expected GmailSettingError, got %T: %v", err, err)
	}
}

func TestSyncOrderGmailOnlySyncsAllTrashSpam(t *testing.T) {
	allRole, trashRole, spamRole, importantRole := models.RoleAll, models.RoleTrash, models.RoleSpam, models.RoleImportant
	folders := []models.RawFolder{
		{DisplayName: "All Mail", Role: &allRole},
		{DisplayName: "[Gmail]/Trash", Role: &trashRole},
		{DisplayName: "[Gmail]/Spam", Role: &spamRole},
		{DisplayName: "[Gmail]/Important", Role: &importantRole},
	}
	got, err := SyncOrder(models.ProviderGmail, folders)
	if err != nil {
		t.Fatalf("SyncOrder: %v", err)
	}
	want := []string{"All Mail", "[Gmail]/Trash", "[Gmail]/Spam"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, name := range want {
		if got[i].DisplayName != name {
			t.Fatalf("position %d: got %q, want %q", i, got[i].DisplayName, name)
		}
	}
}
