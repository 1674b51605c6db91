package crispin

import (
	"fmt"
	"strings"
	"testing"
)

func TestParseUIDListDedupsAndSortsAcrossMultipleLines(t *testing.T) {
	// A server that unions multiple SEARCH response lines (a spec
	// violation some servers commit) must still produce one sorted,
	// de-duplicated list (§4.4 `all_uids`/parse-message-list override).
	got := parseUIDList([]string{"5 3 1", "3 9"})
	want := []uint32{1, 3, 5, 9}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseUIDListIgnoresNonNumericTokens(t *testing.T) {
	got := parseUIDList([]string{"* SEARCH 10 20 30"})
	want := []uint32{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestParseUIDListStaysBoundedOnSixMillionUIDs(t *testing.T) {
	// §4.4's documented performance property: a 6-million-UID response
	// de-duplicates down to 5,999,999 entries and must not blow up memory
	// doing it — the whole point of bypassing go-imap's per-token parse.
	const n = 6_000_000

	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteByte(' ')
		}
		if i == n {
			// Duplicate the previous UID instead of adding a new one, so
			// the expected de-duplicated length is n-1.
			fmt.Fprintf(&b, "%d", n-1)
			continue
		}
		fmt.Fprintf(&b, "%d", i)
	}

	got := parseUIDList([]string{b.String()})
	if len(got) != n-1 {
		t.Fatalf("got length %d, want %d", len(got), n-1)
	}
	if got[0] != 1 || got[len(got)-1] != uint32(n-1) {
		t.Fatalf("got bounds [%d, %d], want [1, %d]", got[0], got[len(got)-1], n-1)
	}
}

func TestDedupSorted(t *testing.T) {
	got := dedupSorted([]uint32{3, 1, 3, 2, 1})
	want := []uint32{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
