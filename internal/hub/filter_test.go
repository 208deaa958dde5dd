package hub

import (
	"testing"
	"time"
)

func TestFilterUncommonPatterns(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Hour)

	states := map[string]EntityState{
		"light.kitchen":             {State: "on", LastChanged: fresh},
		"update.core":               {State: "off", LastChanged: fresh},
		"device_tracker.phone":      {State: "home", LastChanged: fresh},
		"button.restart":            {State: "idle", LastChanged: fresh},
		"sensor.router_uptime":      {State: "123", LastChanged: fresh},
		"sensor.lock_battery_level": {State: "80", LastChanged: fresh},
		"sensor.hacs_pending":       {State: "0", LastChanged: fresh},
		"person.ani":                {State: "home", LastChanged: fresh},
	}

	got := filterUncommonAt(states, false, now)

	for _, id := range []string{"light.kitchen", "person.ani"} {
		if _, ok := got[id]; !ok {
			t.Errorf("FilterUncommon dropped %s", id)
		}
	}
	for _, id := range []string{
		"update.core", "device_tracker.phone", "button.restart",
		"sensor.router_uptime", "sensor.lock_battery_level", "sensor.hacs_pending",
	} {
		if _, ok := got[id]; ok {
			t.Errorf("FilterUncommon kept low-value entity %s", id)
		}
	}
}

func TestFilterUncommonAvailability(t *testing.T) {
	now := time.Now()
	states := map[string]EntityState{
		"light.live":    {State: "on", LastChanged: now.Add(-time.Hour)},
		"light.gone":    {State: "unavailable", LastChanged: now.Add(-time.Hour)},
		"light.unknown": {State: "unknown", LastChanged: now.Add(-time.Hour)},
		"light.stale":   {State: "off", LastChanged: now.Add(-11 * 24 * time.Hour)},
	}

	got := filterUncommonAt(states, false, now)
	if len(got) != 1 {
		t.Fatalf("FilterUncommon kept %d entities, want 1: %v", len(got), got)
	}
	if _, ok := got["light.live"]; !ok {
		t.Fatalf("FilterUncommon dropped light.live")
	}

	all := filterUncommonAt(states, true, now)
	if len(all) != 4 {
		t.Fatalf("FilterUncommon(includeUnavailable) kept %d entities, want 4", len(all))
	}
}
