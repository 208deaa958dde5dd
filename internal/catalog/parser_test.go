package catalog

import (
	"errors"
	"strings"
	"testing"
)

func TestParseSplitsOnSeparatorLines(t *testing.T) {
	content := "Turn on the porch light at dusk.\n---\nTurn it off at midnight.\n"
	autos, _ := Parse(content, "automations/porch.md", false)
	if len(autos) != 2 {
		t.Fatalf("len = %d, want 2", len(autos))
	}
	if autos[0].Contents != "Turn on the porch light at dusk." {
		t.Errorf("first chunk = %q", autos[0].Contents)
	}
	if autos[1].Contents != "Turn it off at midnight." {
		t.Errorf("second chunk = %q", autos[1].Contents)
	}
	if autos[0].Fingerprint == autos[1].Fingerprint {
		t.Error("distinct chunks share a fingerprint")
	}
}

func TestParseIgnoresEmbeddedDashes(t *testing.T) {
	content := "Set thermostat to 68 --- but only at night.\nnot --- a separator\n"
	autos, _ := Parse(content, "automations/t.md", false)
	if len(autos) != 1 {
		t.Fatalf("len = %d, want 1 (embedded --- must not split)", len(autos))
	}
}

func TestParseSeparatorToleratesWhitespace(t *testing.T) {
	content := "one\n  ---  \ntwo\n"
	autos, _ := Parse(content, "automations/w.md", false)
	if len(autos) != 2 {
		t.Fatalf("len = %d, want 2 (padded separator line must split)", len(autos))
	}
}

func TestParseDropsEmptyChunks(t *testing.T) {
	content := "---\n\n---\nreal automation\n---\n\n"
	// Leading block is consumed as (empty) front matter; blank chunks vanish.
	autos, err := Parse(content, "automations/e.md", false)
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil for empty front matter", err)
	}
	if len(autos) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(autos), autos)
	}
	if autos[0].Contents != "real automation" {
		t.Errorf("contents = %q", autos[0].Contents)
	}
}

func TestParseFrontMatterFirstBlockOnly(t *testing.T) {
	content := `---
room: kitchen
priority: 2
---
When the kitchen motion sensor triggers at night, turn on the under-cabinet lights.
---
When the dishwasher finishes, notify ani.
`
	autos, _ := Parse(content, "automations/kitchen.md", false)
	if len(autos) != 2 {
		t.Fatalf("len = %d, want 2", len(autos))
	}
	for _, a := range autos {
		if a.Metadata["room"] != "kitchen" || a.Metadata["priority"] != "2" {
			t.Errorf("metadata = %v", a.Metadata)
		}
	}
	if strings.Contains(autos[0].Contents, "room:") {
		t.Errorf("front matter leaked into contents: %q", autos[0].Contents)
	}
}

func TestParseFrontMatterOnlyAtTop(t *testing.T) {
	content := "do the thing\n---\nroom: attic\n---\nother thing\n"
	autos, _ := Parse(content, "automations/a.md", false)
	if len(autos) != 3 {
		t.Fatalf("len = %d, want 3 (mid-file yaml-looking chunk is an automation)", len(autos))
	}
	if autos[0].Metadata != nil {
		t.Errorf("metadata = %v, want none", autos[0].Metadata)
	}
}

func TestParseBadFrontMatterDegrades(t *testing.T) {
	content := "---\n: : not yaml [\n---\nstill parsed\n"
	autos, err := Parse(content, "automations/b.md", false)
	if !errors.Is(err, ErrBadFrontMatter) {
		t.Fatalf("Parse() error = %v, want ErrBadFrontMatter", err)
	}
	if len(autos) != 1 || autos[0].Contents != "still parsed" {
		t.Fatalf("autos = %+v", autos)
	}
	if autos[0].Metadata != nil {
		t.Errorf("metadata = %v, want none for malformed yaml", autos[0].Metadata)
	}
}

func TestParseIsPure(t *testing.T) {
	content := "Every Monday at 8:00 AM, turn on the living room lights.\n---\nAnnounce to check on dinner in 45 minutes.\n"
	first, _ := Parse(content, "automations/x.md", false)
	second, _ := Parse(content, "automations/x.md", false)
	if len(first) != len(second) {
		t.Fatalf("non-deterministic chunk count")
	}
	for i := range first {
		if first[i].Fingerprint != second[i].Fingerprint {
			t.Errorf("fingerprint drift at %d", i)
		}
	}
}

func TestFingerprintTrimsBeforeHashing(t *testing.T) {
	if Fingerprint("  lights on  \n") != Fingerprint("lights on") {
		t.Error("fingerprint must hash trimmed content")
	}
}
