package crispin

import (
	"fmt"

	imap "github.com/emersion/go-imap"

	"github.com/mjansen/mailsync/internal/models"
)

// flagsBatchThreshold is the `|uids| > 100` threshold from §4.4: beyond
// this, the client requests the whole tail of the mailbox and filters
// locally, because very long explicit UID sets abort some servers.
const flagsBatchThreshold = 100

// Flags fetches current flags for the given UIDs (§4.4 `flags`). Callers
// needing Gmail labels too should use GmailClient.Flags instead.
func (c *Client) Flags(uids []uint32) ([]models.PlainFlags, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqset, wantedSet := c.flagsSeqSet(uids)
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}

	messages, err := c.fetch(seqset, items)
	if err != nil {
		return nil, err
	}

	out := make([]models.PlainFlags, 0, len(messages))
	for _, m := range messages {
		if wantedSet != nil && !wantedSet[m.Uid] {
			continue // unsolicited response for a UID we didn't ask about
		}
		out = append(out, models.PlainFlags{
			UID:   m.Uid,
			Flags: models.NewFlagSet(m.Flags),
		})
	}
	return out, nil
}

// flagsSeqSet builds the FETCH sequence set for Flags and the Gmail
// GmailClient.Flags/GMsgids/GMetadata fetches: an explicit UID list under the batch threshold, or min(uids):* with a
// post-filter set above it.
func (c *Client) flagsSeqSet(uids []uint32) (*imap.SeqSet, map[uint32]bool) {
	seqset := &imap.SeqSet{}

	if len(uids) <= flagsBatchThreshold {
		for _, u := range uids {
			seqset.AddNum(u)
		}
		return seqset, nil
	}

	min := uids[0]
	for _, u := range uids {
		if u < min {
			min = u
		}
	}
	seqset.AddRange(min, 0) // 0 renders as "*" in go-imap's SeqSet

	wanted := make(map[uint32]bool, len(uids))
	for _, u := range uids {
		wanted[u] = true
	}
	return seqset, wanted
}

// CondstoreChangedFlags fetches flags (and, for Gmail, labels via the
// GmailClient override) changed since modseq, adding MODSEQ explicitly to
// the requested FETCH items when the server is known to omit it from
// CHANGEDSINCE responses (the SmarterMail quirk, §4.4/§6).
func (c *Client) CondstoreChangedFlags(modseq uint64) ([]models.PlainFlags, error) {
	seqset := &imap.SeqSet{}
	seqset.AddRange(1, 0)

	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}
	if c.smarterMailQuirk {
		items = append(items, imap.FetchItem("MODSEQ"))
	}

	messages, err := c.fetchChangedSince(seqset, items, modseq)
	if err != nil {
		return nil, err
	}

	out := make([]models.PlainFlags, 0, len(messages))
	for _, m := range messages {
		out = append(out, models.PlainFlags{
			UID:    m.Uid,
			Flags:  models.NewFlagSet(m.Flags),
			ModSeq: extractModSeq(m),
		})
	}
	return out, nil
}

// extractModSeq pulls the MODSEQ fetch item out of a message's raw
// items, since go-imap v1 does not decode it into a typed field.
func extractModSeq(m *imap.Message) uint64 {
	raw, ok := m.Items[imap.FetchItem("MODSEQ")]
	if !ok {
		return 0
	}
	fields, ok := raw.([]interface{})
	if !ok || len(fields) == 0 {
		return 0
	}
	switch v := fields[0].(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	default:
		return 0
	}
}

func (c *Client) fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	ch := make(chan *imap.Message, 32)
	done := make(chan error, 1)
	go func() { done <- c.imapConn.UidFetch(seqset, items, ch) }()

	var out []*imap.Message
	for m := range ch {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("fetch flags: %w", err)}
	}
	return out, nil
}

// fetchChangedSince issues UID FETCH ... (FLAGS) (CHANGEDSINCE modseq).
// go-imap v1 models this via FetchItem's raw command text rather than a
// typed CHANGEDSINCE option, matching how the donor's fetch.go builds raw
// FETCH item lists for extension attributes.
func (c *Client) fetchChangedSince(seqset *imap.SeqSet, items []imap.FetchItem, modseq uint64) ([]*imap.Message, error) {
	changedSinceItem := imap.FetchItem(fmt.Sprintf("(CHANGEDSINCE %d)", modseq))
	return c.fetch(seqset, append(items, changedSinceItem))
}
