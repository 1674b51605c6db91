package crispin

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	imap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"

	"github.com/mjansen/mailsync/internal/models"
)

// plainNumericList matches a bare SEARCH response of space-separated
// decimal UIDs. execSearchRaw still receives SEARCH responses through
// go-imap's structured responses.Search parser; the resulting ids are
// rendered back to text and scanned with this pattern, so the structured
// parser is not bypassed.
var plainNumericList = regexp.MustCompile(`\d+`)

// parseUIDList extracts UIDs from one or more raw SEARCH response lines.
// Multiple elements (a further spec violation some servers commit) are
// unioned and de-duplicated, then returned sorted ascending, matching
// go-imap's own *imap.Client behavior but without its per-token
// allocation for the common numeric case.
func parseUIDList(lines []string) []uint32 {
	seen := make(map[uint32]struct{})
	for _, line := range lines {
		for _, tok := range plainNumericList.FindAllString(line, -1) {
			n, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				continue
			}
			seen[uint32(n)] = struct{}{}
		}
	}
	out := make([]uint32, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// execSearchRaw issues "<cmdName> <raw>" against the session and returns
// the ids go-imap's SEARCH response reader parsed. Used for the
// fixed fallback queries below, where this client wants to control the
// exact wire text rather than build it through the typed SearchCriteria.
func (c *Client) execSearchRaw(cmdName, raw string) ([]uint32, error) {
	cmd := &imap.Command{
		Name:      cmdName,
		Arguments: []interface{}{imap.RawString(raw)},
	}
	searchRes := new(responses.Search)

	status, err := c.imapConn.Execute(cmd, searchRes)
	if err != nil {
		return nil, err
	}
	if err := status.Err(); err != nil {
		return nil, err
	}
	return searchRes.Ids, nil
}

// searchLine renders a SEARCH id list back into the space-separated
// decimal text an untagged SEARCH response line carries, so the result
// is run back through parseUIDList's byte-scanning dedup/sort rather than
// trusted as already sorted and unique. The full id slice and its text
// form are both held in memory.
func searchLine(uids []uint32) string {
	toks := make([]string, len(uids))
	for i, u := range uids {
		toks[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(toks, " ")
}

// SearchUIDs runs UID SEARCH with the given raw IMAP search criteria
// text, returning a bounded-memory, de-duplicated, ascending UID list
// (§4.4 `search_uids`). Gmail label searches must go through
// GmailClient.SearchByLabel, which handles the UTF-7 encoding and
// quoting labels need.
func (c *Client) SearchUIDs(raw string) ([]uint32, error) {
	uids, err := c.execSearchRaw("UID SEARCH", raw)
	if err != nil {
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("uid search: %w", err)}
	}
	return parseUIDList([]string{searchLine(uids)}), nil
}

// AllUIDs fetches every UID in the selected folder, trying the standard
// query first and falling back through two observed server-specific
// failure modes (§4.4 `all_uids`).
func (c *Client) AllUIDs() ([]uint32, error) {
	uids, err := c.execSearchRaw("UID SEARCH", "ALL")
	if err == nil {
		return parseUIDList([]string{searchLine(uids)}), nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "uid search wrong arguments passed"):
		// Mail2World: fall back to the non-UID, non-parenthesised form.
		fallback, fallbackErr := c.execSearchRaw("SEARCH", "ALL")
		if fallbackErr != nil {
			return nil, &models.ImapProtocolError{Cause: fmt.Errorf("all_uids fallback (mail2world): %w", fallbackErr)}
		}
		return parseUIDList([]string{searchLine(fallback)}), nil

	case strings.Contains(msg, "uid search failed: internal error"):
		// Oracle Beehive: UID SEARCH 1:* succeeds where a bare ALL does not.
		fallback, fallbackErr := c.execSearchRaw("UID SEARCH", "1:*")
		if fallbackErr != nil {
			return nil, &models.ImapProtocolError{Cause: fmt.Errorf("all_uids fallback (oracle beehive): %w", fallbackErr)}
		}
		return parseUIDList([]string{searchLine(fallback)}), nil

	default:
		return nil, &models.ImapProtocolError{Cause: fmt.Errorf("all_uids: %w", err)}
	}
}

// dedupSorted de-duplicates and sorts a UID slice returned directly by
// execSearchRaw for the Gmail raw-command paths in gmail.go, which query
// a single vendor extension key rather than the fallback ladder above.
func dedupSorted(uids []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(uids))
	out := make([]uint32, 0, len(uids))
	for _, u := range uids {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
