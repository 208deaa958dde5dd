package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/signal"
	"github.com/haasonsaas/hearth/internal/store"
)

type fakeHub struct {
	states map[string]hub.EntityState
}

func (f *fakeHub) FetchStates(context.Context) (map[string]hub.EntityState, error) {
	return f.states, nil
}

func (f *fakeHub) FetchServices(context.Context) (map[string]map[string]hub.ServiceDescriptor, error) {
	return map[string]map[string]hub.ServiceDescriptor{}, nil
}

func (f *fakeHub) CallService(context.Context, hub.Call, bool) error { return nil }

func (f *fakeHub) NotifyTargets(context.Context) ([]string, error) { return nil, nil }

func (f *fakeHub) SendNotification(context.Context, string, string, string, bool) error {
	return nil
}

func (f *fakeHub) Events() (<-chan hub.Event, func()) {
	return make(chan hub.Event), func() {}
}

// scriptedDriver returns canned responses in order.
type scriptedDriver struct {
	script []*agent.Response
}

func (d *scriptedDriver) Name() string { return "fake" }

func (d *scriptedDriver) Models(context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (d *scriptedDriver) Complete(_ context.Context, _ *agent.Request) (*agent.Response, error) {
	if len(d.script) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := d.script[0]
	d.script = d.script[1:]
	return resp, nil
}

func textResponse(text string) *agent.Response {
	return &agent.Response{Message: agent.TextMessage(agent.RoleAssistant, text)}
}

func toolCallResponse(id, name, input string) *agent.Response {
	return &agent.Response{Message: agent.Message{
		Role: agent.RoleAssistant,
		Blocks: []agent.Block{{
			Type:     agent.BlockToolUse,
			ToolCall: &agent.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)},
		}},
	}}
}

type fixture struct {
	runtime   *Runtime
	store     *store.Store
	catalogue *catalog.Catalogue
	dir       string
}

func newFixture(t *testing.T, driver agent.Driver) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "hearth.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	catalogue := catalog.New(dir)
	r := New(Config{
		Store:      st,
		Catalogue:  catalogue,
		Hub:        &fakeHub{states: map[string]hub.EntityState{}},
		Engine:     agent.NewEngine(),
		Driver:     driver,
		Model:      "fake-model",
		Location:   time.UTC,
		MemoryPath: filepath.Join(dir, "memory.md"),
		CuesDir:    filepath.Join(dir, "cues"),
	})
	return &fixture{runtime: r, store: st, catalogue: catalogue, dir: dir}
}

func (f *fixture) writeAutomation(t *testing.T, name, contents string) catalog.Automation {
	t.Helper()
	dir := filepath.Join(f.dir, "automations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	automations := f.catalogue.Scan()
	for _, a := range automations {
		if a.Contents == strings.TrimSpace(contents) {
			return a
		}
	}
	t.Fatalf("automation not found after scan: %v", automations)
	return catalog.Automation{}
}

func countLogs(t *testing.T, st *store.Store, typ store.LogType) int {
	t.Helper()
	entries, err := st.ListAutomationLogsBefore(context.Background(), time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("ListAutomationLogsBefore() error = %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestScheduleRecordsOneLogRow(t *testing.T) {
	driver := &scriptedDriver{script: []*agent.Response{
		toolCallResponse("call_1", "create-cron-trigger", `{"cron":"0 8 * * 1"}`),
		textResponse("scheduled"),
	}}
	f := newFixture(t, driver)
	automation := f.writeAutomation(t, "monday.md",
		"Every Monday at 8:00 AM, turn on the living room lights.\n")

	f.runtime.tick(context.Background(), f.catalogue.Automations())

	if n := countLogs(t, f.store, store.LogDetermineSignal); n != 1 {
		t.Fatalf("determine-signal rows = %d, want 1", n)
	}
	signals, err := f.store.ListSignalsByFingerprint(context.Background(), automation.Fingerprint)
	if err != nil {
		t.Fatalf("ListSignalsByFingerprint() error = %v", err)
	}
	if len(signals) != 1 || signals[0].Type != signal.TypeCron {
		t.Fatalf("signals = %+v", signals)
	}

	// A second tick must not schedule again.
	f.runtime.tick(context.Background(), f.catalogue.Automations())
	if n := countLogs(t, f.store, store.LogDetermineSignal); n != 1 {
		t.Fatalf("determine-signal rows after retick = %d, want 1", n)
	}
}

func TestRebuildMatchesLiveSignals(t *testing.T) {
	f := newFixture(t, &scriptedDriver{})
	automation := f.writeAutomation(t, "a.md", "When the door opens, say hello.\n")

	ctx := context.Background()
	cronData, _ := signal.EncodeData(signal.CronData{Cron: "0 8 * * 1"})
	stateData, _ := signal.EncodeData(signal.StateData{
		EntityIDs: []string{"binary_sensor.door"}, Regex: "^on$",
	})
	id1, _ := f.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: automation.Fingerprint, Type: signal.TypeCron, Data: cronData,
	})
	id2, _ := f.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: automation.Fingerprint, Type: signal.TypeState, Data: stateData,
	})

	f.runtime.rebuild(ctx)
	f.runtime.teardown()

	views := f.runtime.Handlers()
	if len(views) != 2 {
		t.Fatalf("handlers = %d, want 2", len(views))
	}
	seen := map[int64]bool{}
	for _, v := range views {
		seen[v.SignalID] = true
		if !v.Valid {
			t.Errorf("handler for signal %d invalid: %s", v.SignalID, v.Description)
		}
	}
	if !seen[id1] || !seen[id2] {
		t.Fatalf("handler signal IDs = %v, want %d and %d", seen, id1, id2)
	}
}

func TestRebuildSurfacesInvalidSignals(t *testing.T) {
	f := newFixture(t, &scriptedDriver{})
	automation := f.writeAutomation(t, "a.md", "Bad cron automation.\n")

	ctx := context.Background()
	data, _ := signal.EncodeData(signal.CronData{Cron: "not a cron"})
	f.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: automation.Fingerprint, Type: signal.TypeCron, Data: data,
	})

	f.runtime.rebuild(ctx)
	f.runtime.teardown()

	views := f.runtime.Handlers()
	if len(views) != 1 || views[0].Valid {
		t.Fatalf("handlers = %+v, want one invalid", views)
	}
}

func TestExecuteFiringRecordsLog(t *testing.T) {
	driver := &scriptedDriver{script: []*agent.Response{textResponse("done")}}
	f := newFixture(t, driver)
	automation := f.writeAutomation(t, "a.md", "Announce dinner.\n")

	ctx := context.Background()
	data, _ := signal.EncodeData(signal.OffsetData{OffsetInSeconds: 60})
	id, _ := f.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: automation.Fingerprint, Type: signal.TypeOffset, Data: data,
	})
	sig, _ := f.store.GetSignal(ctx, id)

	if err := f.runtime.executeFiring(ctx, signal.Firing{Signal: sig, Automation: automation}); err != nil {
		t.Fatalf("executeFiring() error = %v", err)
	}

	entries, _ := f.store.ListAutomationLogsBefore(ctx, time.Now().Add(time.Hour), 10)
	if len(entries) != 1 || entries[0].Type != store.LogExecuteSignal {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].SignalID != id {
		t.Fatalf("log signal ID = %d, want %d", entries[0].SignalID, id)
	}
	if !strings.Contains(entries[0].MessageLog, "done") {
		t.Fatalf("message log = %s", entries[0].MessageLog)
	}
}

func TestExecuteFiringAbortsOnMissingSignal(t *testing.T) {
	f := newFixture(t, &scriptedDriver{})
	automation := f.writeAutomation(t, "a.md", "Never runs.\n")

	err := f.runtime.executeFiring(context.Background(), signal.Firing{
		Signal:     signal.Signal{ID: 999},
		Automation: automation,
	})
	if err != nil {
		t.Fatalf("executeFiring() error = %v, want silent abort", err)
	}
	if n := countLogs(t, f.store, store.LogExecuteSignal); n != 0 {
		t.Fatalf("execute-signal rows = %d, want 0", n)
	}
}

func TestRebuildDropsStaleGeneration(t *testing.T) {
	f := newFixture(t, &scriptedDriver{})
	automation := f.writeAutomation(t, "a.md", "Soon.\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, _ := signal.EncodeData(signal.OffsetData{OffsetInSeconds: 1})
	f.store.InsertSignal(ctx, signal.Signal{
		AutomationFingerprint: automation.Fingerprint, Type: signal.TypeOffset, Data: data,
	})

	f.runtime.wg.Add(1)
	go f.runtime.executeLoop(ctx)

	f.runtime.rebuild(ctx)
	// Supersede the handler set before the offset elapses.
	f.store.MarkSignalsDeadByFingerprint(ctx, automation.Fingerprint)
	f.runtime.rebuild(ctx)

	time.Sleep(1500 * time.Millisecond)
	f.runtime.teardown()
	cancel()
	f.runtime.wg.Wait()

	if n := countLogs(t, f.store, store.LogExecuteSignal); n != 0 {
		t.Fatalf("stale firing executed: %d rows", n)
	}
}

func TestTriggerAutomation(t *testing.T) {
	driver := &scriptedDriver{script: []*agent.Response{textResponse("ran it")}}
	f := newFixture(t, driver)
	automation := f.writeAutomation(t, "a.md", "Water the plants.\n")

	if err := f.runtime.TriggerAutomation(context.Background(), automation.Fingerprint); err != nil {
		t.Fatalf("TriggerAutomation() error = %v", err)
	}
	if n := countLogs(t, f.store, store.LogManual); n != 1 {
		t.Fatalf("manual rows = %d, want 1", n)
	}

	if err := f.runtime.TriggerAutomation(context.Background(), "missing"); err == nil {
		t.Fatal("TriggerAutomation(missing) did not error")
	}
}

func TestChatStreamsAndRecords(t *testing.T) {
	driver := &scriptedDriver{script: []*agent.Response{textResponse("the kitchen light is on")}}
	f := newFixture(t, driver)

	var turns []agent.Message
	for turn := range f.runtime.Chat(context.Background(), "is the kitchen light on?") {
		turns = append(turns, turn)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if n := countLogs(t, f.store, store.LogChat); n != 1 {
		t.Fatalf("chat rows = %d, want 1", n)
	}
}
