package crispin

import "testing"

func TestFlagsSeqSetUsesExplicitListUnderThreshold(t *testing.T) {
	c := &Client{}
	uids := []uint32{5, 1, 3}
	seqset, wanted := c.flagsSeqSet(uids)
	if wanted != nil {
		t.Fatal("expected no post-filter set under the batch threshold")
	}
	for _, u := range uids {
		if !seqset.Contains(u) {
			t.Fatalf("expected seqset to contain %d", u)
		}
	}
}

func TestFlagsSeqSetFallsBackToRangeOverThreshold(t *testing.T) {
	c := &Client{}
	uids := make([]uint32, flagsBatchThreshold+1)
	for i := range uids {
		uids[i] = uint32(i + 1)
	}

	seqset, wanted := c.flagsSeqSet(uids)
	if wanted == nil {
		t.Fatal("expected a post-filter set over the batch threshold")
	}
	if !seqset.Contains(1) {
		t.Fatal("expected seqset to start at the minimum uid")
	}
	for _, u := range uids {
		if !wanted[u] {
			t.Fatalf("expected %d to be in the wanted set", u)
		}
	}
}

func TestSmarterMailQuirkDefaultsOff(t *testing.T) {
	plain := &Client{}
	quirked := &Client{smarterMailQuirk: true}

	if plain.smarterMailQuirk {
		t.Fatal("expected quirk to default off")
	}
	if !quirked.smarterMailQuirk {
		t.Fatal("expected SetSmarterMailQuirk(true) equivalent to take effect")
	}
}

func TestSetSmarterMailQuirkTogglesField(t *testing.T) {
	c := &Client{}
	c.SetSmarterMailQuirk(true)
	if !c.smarterMailQuirk {
		t.Fatal("expected smarterMailQuirk to be set")
	}
	c.SetSmarterMailQuirk(false)
	if c.smarterMailQuirk {
		t.Fatal("expected smarterMailQuirk to be cleared")
	}
}
