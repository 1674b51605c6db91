package crispin

import (
	"errors"
	"testing"

	"github.com/mjansen/mailsync/internal/models"
)

func TestEncodeGmailLabelQuotesAndEscapes(t *testing.T) {
	got := encodeGmailLabel(`Work/"Urgent"`)
	want := `"Work/\"Urgent\""`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEncodeGmailLabelHandlesNonASCII(t *testing.T) {
	got := encodeGmailLabel("Фактура")
	if len(got) < 2 || got[0] != '"' || got[len(got)-1] != '"' {
		t.Fatalf("expected quoted output, got %q", got)
	}
}

func TestDeleteDraftConflictWhenGMsgIDsMatch(t *testing.T) {
	g := &GmailClient{Client: &Client{}}
	err := g.DeleteDraft(42, "abc123", "abc123", "[Gmail]/Trash")
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	var conflict *models.DraftDeletionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected DraftDeletionConflictError, got %T: %v", err, err)
	}
	if conflict.GMsgID != "abc123" {
		t.Fatalf("unexpected GMsgID on conflict: %q", conflict.GMsgID)
	}
}
