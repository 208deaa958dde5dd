// Package signal defines the persisted trigger model and the live handlers
// that turn a stored signal into a stream of firings.
package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type discriminates the signal data variants.
type Type string

const (
	TypeCron   Type = "cron"
	TypeState  Type = "state"
	TypeOffset Type = "offset"
	TypeTime   Type = "time"
	TypeRange  Type = "range"
)

// ValidType reports whether t is a known signal type.
func ValidType(t Type) bool {
	switch t {
	case TypeCron, TypeState, TypeOffset, TypeTime, TypeRange:
		return true
	}
	return false
}

// Signal is one persisted trigger row. Data holds the JSON-encoded variant
// matching Type.
type Signal struct {
	ID                    int64
	AutomationFingerprint string
	Type                  Type
	Data                  json.RawMessage
	ExecutionNotes        string
	IsDead                bool
	CreatedAt             time.Time
}

// CronData is the body of a cron signal: a standard 5-field expression.
type CronData struct {
	Cron string `json:"cron"`
}

// StateData is the body of a state-regex signal.
type StateData struct {
	EntityIDs []string `json:"entityIds"`
	Regex     string   `json:"regex"`
	// DelayMS rate-limits edge firings; nil means the 750 ms default.
	DelayMS *int `json:"delay,omitempty"`
}

// OffsetData fires once, OffsetInSeconds after signal creation.
type OffsetData struct {
	OffsetInSeconds int `json:"offsetInSeconds"`
}

// TimeData fires once at an absolute instant.
type TimeData struct {
	ISO8601Time string `json:"iso8601Time"`
}

// RangeData fires when the entity's numeric state stays within [Min, Max]
// for DurationSeconds.
type RangeData struct {
	EntityID        string  `json:"entityId"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	DurationSeconds int     `json:"durationSeconds"`
}

func decode[T any](sig Signal, want Type) (T, error) {
	var body T
	if sig.Type != want {
		return body, fmt.Errorf("signal %d is %q, not %q", sig.ID, sig.Type, want)
	}
	if err := json.Unmarshal(sig.Data, &body); err != nil {
		return body, fmt.Errorf("decode %s signal %d: %w", sig.Type, sig.ID, err)
	}
	return body, nil
}

// DecodeCron returns the cron body of sig.
func DecodeCron(sig Signal) (CronData, error) { return decode[CronData](sig, TypeCron) }

// DecodeState returns the state-regex body of sig.
func DecodeState(sig Signal) (StateData, error) { return decode[StateData](sig, TypeState) }

// DecodeOffset returns the offset body of sig.
func DecodeOffset(sig Signal) (OffsetData, error) { return decode[OffsetData](sig, TypeOffset) }

// DecodeTime returns the absolute-time body of sig.
func DecodeTime(sig Signal) (TimeData, error) { return decode[TimeData](sig, TypeTime) }

// DecodeRange returns the range body of sig.
func DecodeRange(sig Signal) (RangeData, error) { return decode[RangeData](sig, TypeRange) }

// EncodeData marshals a signal body for persistence.
func EncodeData(body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode signal data: %w", err)
	}
	return data, nil
}
