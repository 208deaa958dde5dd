package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/hearth/internal/agent"
	"github.com/haasonsaas/hearth/internal/hub"
	"github.com/haasonsaas/hearth/internal/signal"
	"github.com/haasonsaas/hearth/internal/store"
	"github.com/haasonsaas/hearth/internal/tools/homeassistant"
	"github.com/haasonsaas/hearth/internal/tools/scheduler"
)

// staticHub serves a canned snapshot covering the entities the
// scenarios mention. Read-only; no services, no calls.
type staticHub struct {
	states map[string]hub.EntityState
}

func newStaticHub(now time.Time) *staticHub {
	entities := []struct {
		id, state, name string
	}{
		{"person.ani", "home", "Ani"},
		{"sun.sun", "above_horizon", "Sun"},
		{"light.living_room", "off", "Living Room Lights"},
		{"light.living_room_overhead", "off", "Living Room Overhead Light"},
		{"light.foyer_floor", "off", "Foyer Floor Lights"},
		{"light.chandelier", "off", "Chandelier"},
		{"light.sconces", "off", "Sconces"},
		{"media_player.kitchen", "idle", "Kitchen Speaker"},
	}
	states := make(map[string]hub.EntityState, len(entities))
	for _, e := range entities {
		states[e.id] = hub.EntityState{
			EntityID:    e.id,
			State:       e.state,
			Attributes:  map[string]any{"friendly_name": e.name},
			LastChanged: now,
			LastUpdated: now,
		}
	}
	return &staticHub{states: states}
}

func (h *staticHub) FetchStates(context.Context) (map[string]hub.EntityState, error) {
	return h.states, nil
}

func (h *staticHub) FetchServices(context.Context) (map[string]map[string]hub.ServiceDescriptor, error) {
	return map[string]map[string]hub.ServiceDescriptor{}, nil
}

func (h *staticHub) CallService(context.Context, hub.Call, bool) error {
	return fmt.Errorf("service calls are not available during evaluation")
}

// Runner drives the scenarios.
type Runner struct {
	Driver   agent.Driver
	Model    string
	Engine   *agent.Engine
	Location *time.Location
	Logger   *slog.Logger

	// WorkDir holds the per-scenario databases. Empty means a temp dir
	// provided by the caller.
	WorkDir string
}

// Result is one scenario outcome.
type Result struct {
	Scenario string
	Pass     bool
	Detail   string
}

const evalSystemPrompt = `You are the scheduler of a home automation system.
Translate the given automation's trigger conditions into persisted
triggers using the scheduler tools, then stop. Inspect entities with the
home-assistant tools so trigger parameters use real entity IDs. Do not
call any service now.`

// Run executes every scenario (or just the named one) and reports.
func (r *Runner) Run(ctx context.Context, only string) ([]Result, error) {
	location := r.Location
	if location == nil {
		location = time.UTC
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var results []Result
	for i, scenario := range Scenarios {
		if only != "" && only != scenario.Name {
			continue
		}
		result, err := r.runScenario(ctx, i, scenario, location, logger)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no scenario named %q", only)
	}
	return results, nil
}

func (r *Runner) runScenario(ctx context.Context, index int, scenario Scenario, location *time.Location, logger *slog.Logger) (Result, error) {
	st, err := store.Open(filepath.Join(r.WorkDir, fmt.Sprintf("eval-%d.db", index)))
	if err != nil {
		return Result{}, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return Result{}, fmt.Errorf("init store: %w", err)
	}

	fingerprint := fmt.Sprintf("eval-%s", scenario.Name)
	now := time.Now().In(location)
	servers := []agent.ToolServer{
		homeassistant.NewServer(newStaticHub(now), homeassistant.ModeReadOnly, false),
		scheduler.NewServer(st, fingerprint, scheduler.ModeFull, location, logger),
	}

	prompt := fmt.Sprintf("The current time is %s.\n\nSchedule triggers for this automation:\n\n%s",
		now.Format("Monday, January 2, 2006 at 15:04 (MST)"), scenario.Automation)

	turns := r.Engine.Converse(ctx, agent.Conversation{
		Driver:  r.Driver,
		Model:   r.Model,
		System:  evalSystemPrompt,
		Prompt:  prompt,
		Servers: servers,
	})
	for range turns {
	}

	produced, err := st.ListSignalsByFingerprint(ctx, fingerprint)
	if err != nil {
		return Result{}, fmt.Errorf("list signals: %w", err)
	}
	pass, detail := Match(scenario.Expect, produced)
	return Result{Scenario: scenario.Name, Pass: pass, Detail: detail}, nil
}

// Match compares produced signals against the expectations as a
// multiset of (type, canonical data) pairs.
func Match(expect []Expectation, produced []signal.Signal) (bool, string) {
	want := make(map[string]int)
	for _, e := range expect {
		key, err := matchKey(e.Type, e.Data)
		if err != nil {
			return false, fmt.Sprintf("bad expectation: %v", err)
		}
		want[key]++
	}

	got := make(map[string]int)
	var gotKeys []string
	for _, sig := range produced {
		var data any
		if err := json.Unmarshal(sig.Data, &data); err != nil {
			return false, fmt.Sprintf("signal %d has undecodable data", sig.ID)
		}
		key, err := matchKey(sig.Type, data)
		if err != nil {
			return false, fmt.Sprintf("signal %d: %v", sig.ID, err)
		}
		got[key]++
		gotKeys = append(gotKeys, key)
	}

	if len(produced) != len(expect) {
		return false, fmt.Sprintf("signal count = %d, want %d (got: %s)",
			len(produced), len(expect), strings.Join(gotKeys, "; "))
	}
	for key, n := range want {
		if got[key] != n {
			return false, fmt.Sprintf("missing %s (got: %s)", key, strings.Join(gotKeys, "; "))
		}
	}
	return true, ""
}

// matchKey canonicalises a (type, data) pair: data is marshalled and
// re-compacted so field order and encoding details do not matter.
func matchKey(typ signal.Type, data any) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var loose any
	if err := json.Unmarshal(encoded, &loose); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(loose)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, canonical); err != nil {
		return "", err
	}
	return string(typ) + " " + buf.String(), nil
}

// Report prints the pass/fail table and reports overall success.
func Report(w io.Writer, results []Result) bool {
	pass := true
	for _, result := range results {
		status := "PASS"
		if !result.Pass {
			status = "FAIL"
			pass = false
		}
		fmt.Fprintf(w, "%-28s %s", result.Scenario, status)
		if result.Detail != "" {
			fmt.Fprintf(w, "  %s", result.Detail)
		}
		fmt.Fprintln(w)
	}
	return pass
}
