package crispin

import (
	"fmt"
	"strings"

	"github.com/cention-sany/utf7"
	imap "github.com/emersion/go-imap"

	"github.com/mjansen/mailsync/internal/models"
)

// GmailClient adds the Gmail-only extension operations of §4.4 on top of
// the generic Client: X-GM-LABELS searches, X-GM-MSGID/X-GM-THRID
// metadata, thread expansion, and the copy-then-delete dance Gmail
// requires because labels are not folders.
type GmailClient struct {
	*Client
}

// NewGmailClient wraps an already-dialed Client.
func NewGmailClient(c *Client) *GmailClient { return &GmailClient{Client: c} }

// encodeGmailLabel converts a display label into the modified-UTF7,
// quoted form Gmail's IMAP extension requires in SEARCH criteria —
// labels legally contain asterisks, which break the client library's
// default unquoted literal encoding (§4.4 `search_uids`).
func encodeGmailLabel(label string) string {
	encoded := utf7.Encode(label)
	escaped := strings.ReplaceAll(strings.ReplaceAll(encoded, `\`, `\\`), `"`, `\"`)
	return `"` + escaped + `"`
}

// SearchByLabel runs a X-GM-LABELS SEARCH for one Gmail label. go-imap's
// typed SearchCriteria has no field for vendor SEARCH keys, so this uses
// the same raw-command escape hatch the library's own UidSearch is built
// on internally.
func (g *GmailClient) SearchByLabel(label string) ([]uint32, error) {
	raw := fmt.Sprintf("X-GM-LABELS %s", encodeGmailLabel(label))
	uids, err := g.uidSearchRaw(raw)
	if err != nil {
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("search by label %q: %w", label, err)}
	}
	return dedupSorted(uids), nil
}

// uidSearchRaw issues "UID SEARCH <raw>" and returns the resulting UIDs,
// for Gmail extension keys (X-GM-LABELS, X-GM-THRID) that go-imap's
// typed SearchCriteria cannot express.
func (g *GmailClient) uidSearchRaw(raw string) ([]uint32, error) {
	return g.Client.execSearchRaw("UID SEARCH", raw)
}

// gMsgidItem and gThridItem are the raw FETCH items for Gmail's
// extension attributes; go-imap has no typed constant for them.
const (
	gMsgidItem = imap.FetchItem("X-GM-MSGID")
	gThridItem = imap.FetchItem("X-GM-THRID")
	gLabelItem = imap.FetchItem("X-GM-LABELS")
)

// GMsgids fetches X-GM-MSGID for the given UIDs, in the same batched-FETCH
// style as Flags (§4.4's "Supplemented" paragraph).
func (g *GmailClient) GMsgids(uids []uint32) (map[uint32]string, error) {
	seqset, _ := g.flagsSeqSet(uids)
	messages, err := g.fetch(seqset, []imap.FetchItem{imap.FetchUid, gMsgidItem})
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]string, len(messages))
	for _, m := range messages {
		if v, ok := gmailExtensionString(m, gMsgidItem); ok {
			out[m.Uid] = v
		}
	}
	return out, nil
}

// GMetadata fetches X-GM-MSGID and X-GM-THRID together for the given
// UIDs.
func (g *GmailClient) GMetadata(uids []uint32) (map[uint32]models.RawMessage, error) {
	seqset, _ := g.flagsSeqSet(uids)
	messages, err := g.fetch(seqset, []imap.FetchItem{imap.FetchUid, gMsgidItem, gThridItem})
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]models.RawMessage, len(messages))
	for _, m := range messages {
		msgid, _ := gmailExtensionString(m, gMsgidItem)
		thrid, _ := gmailExtensionString(m, gThridItem)
		out[m.Uid] = models.RawMessage{UID: m.Uid, GMsgID: msgid, GThrID: thrid}
	}
	return out, nil
}

// ExpandThread issues a X-GM-THRID SEARCH against the currently selected
// folder (expected to be the "all" folder) to discover sibling UIDs for
// thread-complete backfills. This is used only by the Engine's
// backfill path, never as a general threading feature.
func (g *GmailClient) ExpandThread(gThrID string) ([]uint32, error) {
	raw := fmt.Sprintf("X-GM-THRID %s", gThrID)
	uids, err := g.uidSearchRaw(raw)
	if err != nil {
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("expand thread %s: %w", gThrID, err)}
	}
	return dedupSorted(uids), nil
}

// Flags overrides the generic Client.Flags to additionally decode
// X-GM-LABELS into each result, converting each modified-UTF7 label back
// to its display form.
func (g *GmailClient) Flags(uids []uint32) ([]models.GmailFlags, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	seqset, wanted := g.flagsSeqSet(uids)
	messages, err := g.fetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchFlags, gLabelItem})
	if err != nil {
		return nil, err
	}

	out := make([]models.GmailFlags, 0, len(messages))
	for _, m := range messages {
		if wanted != nil && !wanted[m.Uid] {
			continue
		}
		out = append(out, models.GmailFlags{
			UID:    m.Uid,
			Flags:  models.NewFlagSet(m.Flags),
			Labels: decodeGmailLabels(m),
		})
	}
	return out, nil
}

// CondstoreChangedFlags overrides the generic Client version to also
// request X-GM-LABELS, so the Engine's CONDSTORE poll path can reconcile
// label additions/removals the same way a full Flags diff would (§4.6
// poll step 3: "for Gmail, reconcile labels").
func (g *GmailClient) CondstoreChangedFlags(modseq uint64) ([]models.GmailFlags, error) {
	seqset := seqSetOf(nil)
	seqset.AddRange(1, 0)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, gLabelItem}
	if g.smarterMailQuirk {
		items = append(items, imap.FetchItem("MODSEQ"))
	}

	messages, err := g.fetchChangedSince(seqset, items, modseq)
	if err != nil {
		return nil, err
	}

	out := make([]models.GmailFlags, 0, len(messages))
	for _, m := range messages {
		out = append(out, models.GmailFlags{
			UID:    m.Uid,
			Flags:  models.NewFlagSet(m.Flags),
			Labels: decodeGmailLabels(m),
			ModSeq: extractModSeq(m),
		})
	}
	return out, nil
}

func decodeGmailLabels(m *imap.Message) []string {
	raw, ok := m.Items[gLabelItem]
	if !ok {
		return nil
	}
	fields, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		s, ok := f.(string)
		if !ok {
			continue
		}
		decoded, err := utf7.Decode(s)
		if err != nil {
			decoded = s
		}
		out = append(out, decoded)
	}
	return out
}

func gmailExtensionString(m *imap.Message, item imap.FetchItem) (string, bool) {
	raw, ok := m.Items[item]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case uint64:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}

// DeleteSentMessage removes a message from Sent by copying it to Trash
// and then deleting the UID from the currently selected folder, because
// Gmail labels are not folders (§4.4). The copy in Trash is left in
// place; no STORE or EXPUNGE is issued there.
func (g *GmailClient) DeleteSentMessage(uid uint32, trashFolder string) error {
	seqset := seqSetOf([]uint32{uid})
	if err := g.Client.imapConn.UidCopy(seqset, trashFolder); err != nil {
		return &models.ImapProtocolError{Cause: fmt.Errorf("copy sent message %d to trash: %w", uid, err)}
	}
	return g.Client.DeleteUIDs([]uint32{uid})
}

// DeleteDraft removes a draft, first confirming via X-GM-MSGID that the
// sent-copy reconciliation produced a distinct message; if the
// reconciled message shares the draft's g_msgid, deleting now would
// delete the sent copy too, so this aborts with DraftDeletionConflictError
// instead (§4.4).
func (g *GmailClient) DeleteDraft(uid uint32, gMsgID string, reconciledGMsgID string, trashFolder string) error {
	if gMsgID != "" && gMsgID == reconciledGMsgID {
		return &models.DraftDeletionConflictError{GMsgID: gMsgID}
	}
	return g.DeleteSentMessage(uid, trashFolder)
}
