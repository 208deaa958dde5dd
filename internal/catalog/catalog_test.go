package catalog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeAutomation(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestScanPartitionsCues(t *testing.T) {
	root := t.TempDir()
	writeAutomation(t, root, "automations/lights.md", "Turn on the lights at dusk.\n")
	writeAutomation(t, root, "cues/dinner.md", "Remind about dinner at 6pm today.\n")
	writeAutomation(t, root, "automations/notes.txt", "not an automation file\n")

	c := New(root)
	list := c.Scan()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2 (.txt excluded): %+v", len(list), list)
	}

	byPath := map[string]Automation{}
	for _, a := range list {
		byPath[a.SourcePath] = a
	}
	if a := byPath["automations/lights.md"]; a.IsCue {
		t.Error("automations/ entry flagged as cue")
	}
	if a := byPath["cues/dinner.md"]; !a.IsCue {
		t.Error("cues/ entry not flagged as cue")
	}
}

func TestScanWarnsOnBadFrontMatter(t *testing.T) {
	root := t.TempDir()
	writeAutomation(t, root, "automations/bad.md", "---\n: : not yaml [\n---\nstill parsed\n")

	var buf bytes.Buffer
	c := New(root, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	list := c.Scan()

	// The automation survives without metadata, and the scan says why.
	if len(list) != 1 || list[0].Contents != "still parsed" {
		t.Fatalf("list = %+v, want the automation kept", list)
	}
	if list[0].Metadata != nil {
		t.Errorf("metadata = %v, want none", list[0].Metadata)
	}
	if !strings.Contains(buf.String(), "front matter") {
		t.Errorf("log output %q missing front matter warning", buf.String())
	}
}

func TestScanIsStableAcrossRescans(t *testing.T) {
	root := t.TempDir()
	writeAutomation(t, root, "automations/a.md", "one\n---\ntwo\n")
	writeAutomation(t, root, "automations/b.md", "three\n")

	c := New(root)
	first := c.Scan()
	second := c.Scan()
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("lens = %d, %d, want 3", len(first), len(second))
	}
	for i := range first {
		if first[i].Fingerprint != second[i].Fingerprint {
			t.Errorf("fingerprint drift at %d", i)
		}
	}
}

func TestByFingerprint(t *testing.T) {
	root := t.TempDir()
	writeAutomation(t, root, "automations/a.md", "turn on the fan\n")
	c := New(root)
	c.Scan()

	want := Fingerprint("turn on the fan")
	if _, ok := c.ByFingerprint(want); !ok {
		t.Errorf("ByFingerprint(%s) missing", want)
	}
	if _, ok := c.ByFingerprint("absent"); ok {
		t.Error("ByFingerprint(absent) found something")
	}
}

func TestWatcherCoalescesBurstIntoOneRescan(t *testing.T) {
	root := t.TempDir()
	c := New(root, WithRescanWindow(100*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Close()

	ch, unsub := c.Subscribe()
	defer unsub()

	// Burst of writes inside one window.
	for i := 0; i < 4; i++ {
		writeAutomation(t, root, "automations/burst.md", "line one\n")
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case list := <-ch:
		if len(list) != 1 {
			t.Fatalf("list = %+v, want the single automation", list)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no rescan emitted after burst")
	}

	// The burst must have coalesced: no second emission without new events.
	select {
	case list := <-ch:
		t.Fatalf("unexpected second rescan: %+v", list)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSubscribeKeepsLatestOnly(t *testing.T) {
	root := t.TempDir()
	writeAutomation(t, root, "automations/a.md", "first\n")
	c := New(root)
	ch, unsub := c.Subscribe()
	defer unsub()

	c.Scan()
	writeAutomation(t, root, "automations/a.md", "second\n")
	c.Scan()

	list := <-ch
	if len(list) != 1 || list[0].Contents != "second" {
		t.Fatalf("list = %+v, want only the latest scan", list)
	}
}
