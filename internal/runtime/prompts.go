package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/hearth/internal/catalog"
	"github.com/haasonsaas/hearth/internal/signal"
)

const schedulingSystemPrompt = `You are the scheduler of a home automation system.
You are given one automation written in natural language. Your job is to
translate its trigger conditions into persisted triggers using the
scheduler tools, then stop.

Guidelines:
- Inspect entities with the home-assistant tools when the automation
  refers to devices, people or sensors, so trigger parameters use real
  entity IDs.
- Prefer cron triggers for recurring wall-clock schedules, state-regex
  triggers for entity conditions (a person arriving is person.x matching
  ^home$; sunset is sun.sun matching ^below_horizon$), relative-time for
  "in N minutes", absolute-time for a specific date.
- One trigger per distinct condition; an on/off pair needs two triggers.
- Put anything the executing conversation will need into executionNotes.
- Do not call any service now. Scheduling only.`

const executionSystemPrompt = `You are the executor of a home automation system.
One of your scheduled triggers has fired. Carry out the automation's
intent using the tools, then stop.

Guidelines:
- Verify entity state before acting when the automation is conditional.
- Use call-service for device actions and the notify tools for messages
  to people.
- Save observations that would help future runs.
- If this was a one-time automation that is now complete, cancel its
  remaining triggers.`

const chatSystemPrompt = `You are a home automation assistant with live
access to the home. Answer questions and perform requests using the
tools. Be concise.`

const promptTimeLayout = "Monday, January 2, 2006 at 15:04 (MST)"

func schedulingPrompt(automation catalog.Automation, now time.Time, observations []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The current time is %s.\n\n", now.Format(promptTimeLayout))
	if len(observations) > 0 {
		b.WriteString("Saved observations about this home:\n")
		for _, line := range observations {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if automation.IsCue {
		b.WriteString("Schedule triggers for this one-time automation cue:\n\n")
	} else {
		b.WriteString("Schedule triggers for this automation:\n\n")
	}
	b.WriteString(automation.Contents)
	return b.String()
}

func executionPrompt(sig signal.Signal, automation catalog.Automation, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The current time is %s.\n\n", now.Format(promptTimeLayout))
	fmt.Fprintf(&b, "Trigger fired: %s %s\n\n", sig.Type, compactJSON(sig.Data))
	if sig.ExecutionNotes != "" {
		fmt.Fprintf(&b, "Notes from scheduling: %s\n\n", sig.ExecutionNotes)
	}
	b.WriteString("Execute this automation:\n\n")
	b.WriteString(automation.Contents)
	return b.String()
}

func manualPrompt(automation catalog.Automation, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The current time is %s.\n\n", now.Format(promptTimeLayout))
	b.WriteString("The user asked for this automation to run right now, regardless of its triggers. Execute it:\n\n")
	b.WriteString(automation.Contents)
	return b.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
