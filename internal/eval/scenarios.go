// Package eval runs the scheduling scenarios against a real driver and
// checks the signals the model produced.
package eval

import (
	"github.com/haasonsaas/hearth/internal/signal"
)

// Expectation is one signal the scenario must produce, matched on type
// and exact data.
type Expectation struct {
	Type signal.Type
	Data any
}

// Scenario is one scheduling exercise: an automation text and the
// signals a correct scheduling run inserts.
type Scenario struct {
	Name       string
	Automation string
	Expect     []Expectation
}

// Scenarios are the literal scheduling exercises.
var Scenarios = []Scenario{
	{
		Name:       "monday-cron",
		Automation: "Every Monday at 8:00 AM, turn on the living room lights.",
		Expect: []Expectation{
			{Type: signal.TypeCron, Data: signal.CronData{Cron: "0 8 * * 1"}},
		},
	},
	{
		Name:       "daily-on-off",
		Automation: "Set the foyer floor lights on at 7:00am and off at 8:00pm every day.",
		Expect: []Expectation{
			{Type: signal.TypeCron, Data: signal.CronData{Cron: "0 7 * * *"}},
			{Type: signal.TypeCron, Data: signal.CronData{Cron: "0 20 * * *"}},
		},
	},
	{
		Name:       "weekday-weekend-split",
		Automation: "Turn on the chandelier at 6:45am on weekdays and 8:30am on weekends.",
		Expect: []Expectation{
			{Type: signal.TypeCron, Data: signal.CronData{Cron: "45 6 * * 1-5"}},
			{Type: signal.TypeCron, Data: signal.CronData{Cron: "30 8 * * 0,6"}},
		},
	},
	{
		Name:       "state-trigger",
		Automation: "When ani arrives home, turn on the living room overhead light.",
		Expect: []Expectation{
			{Type: signal.TypeState, Data: signal.StateData{
				EntityIDs: []string{"person.ani"}, Regex: "^home$",
			}},
		},
	},
	{
		Name:       "relative-offset",
		Automation: "Announce to check on dinner in 45 minutes.",
		Expect: []Expectation{
			{Type: signal.TypeOffset, Data: signal.OffsetData{OffsetInSeconds: 2700}},
		},
	},
	{
		Name:       "sun",
		Automation: "Turn on the sconces at sunset and off at sunrise.",
		Expect: []Expectation{
			{Type: signal.TypeState, Data: signal.StateData{
				EntityIDs: []string{"sun.sun"}, Regex: "^below_horizon$",
			}},
			{Type: signal.TypeState, Data: signal.StateData{
				EntityIDs: []string{"sun.sun"}, Regex: "^above_horizon$",
			}},
		},
	},
}
