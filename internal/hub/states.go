package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
)

// FetchStates returns the entity state snapshot. The first call performs a
// full get_states round-trip and flips the cache live; from then on the
// event subscription keeps it current and calls are served from memory.
// The returned map is a defensive shallow copy.
func (c *Client) FetchStates(ctx context.Context) (map[string]EntityState, error) {
	c.statesMu.RLock()
	if c.statesLive {
		snapshot := maps.Clone(c.states)
		c.statesMu.RUnlock()
		return snapshot, nil
	}
	c.statesMu.RUnlock()

	payload, err := c.roundTrip(ctx, map[string]any{"type": "get_states"})
	if err != nil {
		return nil, fmt.Errorf("get_states: %w", err)
	}
	var rows []EntityState
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode get_states: %w", err)
	}

	states := make(map[string]EntityState, len(rows))
	for _, row := range rows {
		states[row.EntityID] = row
	}

	c.statesMu.Lock()
	// A state_changed delta may have raced the snapshot; deltas win.
	if c.states != nil {
		maps.Copy(states, c.states)
	}
	c.states = states
	c.statesLive = true
	snapshot := maps.Clone(c.states)
	c.statesMu.Unlock()

	c.logger.Debug("state snapshot loaded", "entities", len(snapshot))
	return snapshot, nil
}

// applyStateChange folds one state_changed event into the cache. The read
// loop is the only writer.
func (c *Client) applyStateChange(data json.RawMessage) {
	var change StateChange
	if err := json.Unmarshal(data, &change); err != nil {
		c.logger.Warn("undecodable state_changed payload", "error", err)
		return
	}
	if change.EntityID == "" {
		return
	}

	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	if c.states == nil {
		c.states = make(map[string]EntityState)
	}
	if change.NewState == nil {
		delete(c.states, change.EntityID)
		return
	}
	st := *change.NewState
	st.EntityID = change.EntityID
	c.states[change.EntityID] = st
}

// StateOf returns one entity's cached state when the cache is live.
func (c *Client) StateOf(entityID string) (EntityState, bool) {
	c.statesMu.RLock()
	defer c.statesMu.RUnlock()
	if !c.statesLive {
		return EntityState{}, false
	}
	st, ok := c.states[entityID]
	return st, ok
}
