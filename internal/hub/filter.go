package hub

import (
	"strings"
	"time"
)

// lowValueDomains are entity domains the LLM never needs to reason about.
var lowValueDomains = []string{
	"update.",
	"device_tracker.",
	"button.",
	"conversation.",
	"stt.",
	"tts.",
	"todo.",
	"wake_word.",
	"zone.",
	"event.",
	"remote.",
	"siren.",
	"tag.",
}

// lowValueSubstrings mark diagnostic noise inside any domain.
var lowValueSubstrings = []string{
	"_uptime",
	"_battery_",
	"_firmware",
	"_version",
	"_signal_strength",
	"_link_quality",
	"_last_seen",
	"_last_restart",
	"_memory_",
	"_cpu_",
	"hacs_",
	"remote_ui",
	"_identify",
	"_restart",
	"_reboot",
}

// staleAfter is how long an entity may sit unchanged before it is treated
// as abandoned.
const staleAfter = 10 * 24 * time.Hour

// FilterUncommon drops low-value entities: fixed domain and substring
// patterns always, plus entities that are unavailable/unknown or
// unchanged for more than ten days unless includeUnavailable is set.
func FilterUncommon(states map[string]EntityState, includeUnavailable bool) map[string]EntityState {
	return filterUncommonAt(states, includeUnavailable, time.Now())
}

func filterUncommonAt(states map[string]EntityState, includeUnavailable bool, now time.Time) map[string]EntityState {
	out := make(map[string]EntityState, len(states))
	for id, st := range states {
		if isLowValue(id) {
			continue
		}
		if !includeUnavailable {
			if st.State == "unavailable" || st.State == "unknown" {
				continue
			}
			if !st.LastChanged.IsZero() && now.Sub(st.LastChanged) > staleAfter {
				continue
			}
		}
		out[id] = st
	}
	return out
}

func isLowValue(entityID string) bool {
	for _, prefix := range lowValueDomains {
		if strings.HasPrefix(entityID, prefix) {
			return true
		}
	}
	for _, sub := range lowValueSubstrings {
		if strings.Contains(entityID, sub) {
			return true
		}
	}
	return false
}
