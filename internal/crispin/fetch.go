package crispin

import (
	"bytes"
	"fmt"
	"time"

	imap "github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/mjansen/mailsync/internal/models"
)

const uidsFetchRetries = 3

// Uids downloads full RawMessages for the given UIDs (§4.4 `uids`): per
// UID, RFC822.SIZE is checked first so oversized bodies are skipped; the
// rest are fetched with BODY.PEEK[]/INTERNALDATE/FLAGS, retried up to
// three times (observed necessary against some Microsoft servers).
func (c *Client) Uids(uids []uint32) ([]models.RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	wanted, err := c.sizeFilteredUIDs(uids)
	if err != nil {
		return nil, err
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	seqset := &imap.SeqSet{}
	for _, u := range wanted {
		seqset.AddNum(u)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, imap.FetchFlags, section.FetchItem()}

	var messages []*imap.Message
	var fetchErr error
	for attempt := 0; attempt < uidsFetchRetries; attempt++ {
		messages, fetchErr = c.fetch(seqset, items)
		if fetchErr == nil {
			break
		}
	}
	if fetchErr != nil {
		return nil, fetchErr
	}

	wantedSet := make(map[uint32]bool, len(wanted))
	for _, u := range wanted {
		wantedSet[u] = true
	}

	out := make([]models.RawMessage, 0, len(messages))
	for _, m := range messages {
		if !wantedSet[m.Uid] {
			continue // unsolicited response for a UID we didn't request
		}
		raw, ok := decodeRawMessage(m, section)
		if !ok {
			continue // missing FLAGS or BODY[]: dropped without a warning
		}
		out = append(out, raw)
	}
	return out, nil
}

// decodeRawMessage converts one FETCH response into a RawMessage. It
// returns ok=false when either FLAGS or the body section is absent; Uids
// then drops the entry without logging it.
func decodeRawMessage(m *imap.Message, section *imap.BodySectionName) (models.RawMessage, bool) {
	bodyLiteral := m.GetBody(section)
	if bodyLiteral == nil || m.Flags == nil {
		return models.RawMessage{}, false
	}

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(bodyLiteral); err != nil {
		return models.RawMessage{}, false
	}

	raw := models.RawMessage{
		UID:   m.Uid,
		Flags: models.NewFlagSet(m.Flags),
		Body:  body.Bytes(),
	}

	if !m.InternalDate.IsZero() {
		raw.InternalDate = m.InternalDate
		raw.HasInternalDate = true
	} else if recovered, ok := recoverDateFromHeaders(raw.Body); ok {
		raw.InternalDate = recovered
		raw.HasInternalDate = true
	}

	return raw, true
}

// recoverDateFromHeaders parses the Date: header out of a message body
// when INTERNALDATE was absent from the FETCH response (§4.4 `uids`).
// enmime is used here purely for its header parsing, not full MIME
// decoding — the body is handed back to the caller untouched.
func recoverDateFromHeaders(body []byte) (time.Time, bool) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(body))
	if err != nil || env == nil {
		return time.Time{}, false
	}
	dateHeader := env.GetHeader("Date")
	if dateHeader == "" {
		return time.Time{}, false
	}
	parsed, err := mailDateParse(dateHeader)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// mailDateParse accepts one-digit-day INTERNALDATE-style dates too, in
// violation of RFC 2060 (observed in the wild, §6), by trying RFC 1123
// layouts and then two layouts whose day field takes one digit ("2") or
// a space-padded digit ("_2").
func mailDateParse(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC1123Z,
		time.RFC1123,
		"2 Jan 2006 15:04:05 -0700",
		"_2-Jan-2006 15:04:05 -0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// sizeFilteredUIDs fetches RFC822.SIZE for each UID and drops any whose
// size exceeds maxMessageBodyLength.
func (c *Client) sizeFilteredUIDs(uids []uint32) ([]uint32, error) {
	seqset := &imap.SeqSet{}
	for _, u := range uids {
		seqset.AddNum(u)
	}

	messages, err := c.fetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchRFC822Size})
	if err != nil {
		return nil, err
	}

	out := make([]uint32, 0, len(messages))
	for _, m := range messages {
		if int64(m.Size) > c.maxMessageBodyLength {
			continue
		}
		out = append(out, m.Uid)
	}
	return out, nil
}
