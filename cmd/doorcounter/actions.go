package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types - IPC request vocabulary
// ============================================================================
// Actions are what external clients (doorctl, scripts, test rigs) ask the
// daemon to do over the IPC socket.
// ============================================================================

// Action is a marker interface for all IPC requests.
type Action interface {
	actionMarker()
}

// BarrierSample injects a raw sample as if a sensor produced it.
type BarrierSample struct {
	Barrier string `json:"barrier"` // "outer" or "inner"
	Raw     int    `json:"raw"`
}

func (BarrierSample) actionMarker() {}

// GetCount requests the current occupancy.
type GetCount struct{}

func (GetCount) actionMarker() {}

// ResetCount sets the occupancy back to zero.
type ResetCount struct{}

func (ResetCount) actionMarker() {}

// GetStatus requests the full daemon status.
type GetStatus struct{}

func (GetStatus) actionMarker() {}

// GetCrossings requests the most recent crossings from the crossing log.
type GetCrossings struct {
	Limit int `json:"limit,omitempty"`
}

func (GetCrossings) actionMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope wraps an action with a type discriminator for JSON marshaling
type ActionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalAction deserializes a JSON action envelope into a concrete Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "barrier_sample":
		var a BarrierSample
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal BarrierSample: %w", err)
		}
		return a, nil

	case "get_count":
		return GetCount{}, nil

	case "reset_count":
		return ResetCount{}, nil

	case "get_status":
		return GetStatus{}, nil

	case "get_crossings":
		var a GetCrossings
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &a); err != nil {
				return nil, fmt.Errorf("unmarshal GetCrossings: %w", err)
			}
		}
		return a, nil

	case "":
		return nil, fmt.Errorf("missing action type")

	default:
		return nil, fmt.Errorf("unknown action type: %s", env.Type)
	}
}

// MarshalAction serializes an Action into a JSON envelope
func MarshalAction(a Action) ([]byte, error) {
	var env ActionEnvelope

	switch v := a.(type) {
	case BarrierSample:
		env.Type = "barrier_sample"
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal BarrierSample: %w", err)
		}
		env.Data = data

	case GetCount:
		env.Type = "get_count"

	case ResetCount:
		env.Type = "reset_count"

	case GetStatus:
		env.Type = "get_status"

	case GetCrossings:
		env.Type = "get_crossings"
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal GetCrossings: %w", err)
		}
		env.Data = data

	default:
		return nil, fmt.Errorf("unknown action type: %T", a)
	}

	return json.Marshal(env)
}
