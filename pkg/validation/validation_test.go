package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landkeeper/pkg/wire"
)

func TestValidateJoinFrame(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{
		Kind: wire.KindJoin,
		Payload: wire.Join{
			RequestID: "req-1",
			LandType:  "dungeon",
			PlayerID:  "player-1",
		},
	}, 64)
	require.NoError(t, err)
}

func TestValidateJoinFrameRejectsMissingLandType(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{
		Kind:    wire.KindJoin,
		Payload: wire.Join{RequestID: "req-1"},
	}, 64)
	assert.Error(t, err)
}

func TestValidateFrameRejectsOversizedFrame(t *testing.T) {
	v := NewFrameValidator(16)

	err := v.ValidateFrame(wire.TransportMessage{
		Kind:    wire.KindJoin,
		Payload: wire.Join{RequestID: "req-1", LandType: "dungeon"},
	}, 1024)
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestValidateActionFrameRunsRegisteredPayloadValidator(t *testing.T) {
	v := NewFrameValidator(1024)

	type movePayload struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	v.RegisterActionValidator("move", func(payload json.RawMessage) error {
		var p movePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if p.X < -1000 || p.X > 1000 || p.Y < -1000 || p.Y > 1000 {
			return assert.AnError
		}
		return nil
	})

	ok := v.ValidateFrame(wire.TransportMessage{
		Kind: wire.KindAction,
		Payload: wire.Action{
			RequestID:      "req-1",
			TypeIdentifier: "move",
			Payload:        json.RawMessage(`{"x":5,"y":5}`),
		},
	}, 64)
	require.NoError(t, ok)

	bad := v.ValidateFrame(wire.TransportMessage{
		Kind: wire.KindAction,
		Payload: wire.Action{
			RequestID:      "req-2",
			TypeIdentifier: "move",
			Payload:        json.RawMessage(`{"x":9999,"y":0}`),
		},
	}, 64)
	assert.Error(t, bad)
}

func TestValidateActionFrameWithoutRegisteredValidatorPassesThrough(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{
		Kind: wire.KindAction,
		Payload: wire.Action{
			RequestID:      "req-1",
			TypeIdentifier: "whatever",
			Payload:        json.RawMessage(`{"anything":"goes"}`),
		},
	}, 64)
	assert.NoError(t, err)
}

func TestValidateEventFrameRunsRegisteredPayloadValidator(t *testing.T) {
	v := NewFrameValidator(1024)
	v.RegisterEventValidator("chat", func(payload json.RawMessage) error {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return err
		}
		if len(body.Text) > 500 {
			return assert.AnError
		}
		return nil
	})

	err := v.ValidateFrame(wire.TransportMessage{
		Kind: wire.KindEvent,
		Payload: wire.Event{
			Type:    "chat",
			Payload: json.RawMessage(`{"text":"hello"}`),
		},
	}, 64)
	assert.NoError(t, err)
}

func TestValidateFrameRejectsUnexpectedPayloadType(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{
		Kind:    wire.KindAction,
		Payload: "not an action",
	}, 64)
	assert.ErrorContains(t, err, "unexpected payload type")
}

func TestValidateFrameRejectsUnknownKind(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{Kind: wire.Kind(99)}, 64)
	assert.Error(t, err)
}

func TestValidateFramePassesThroughServerOriginatedKinds(t *testing.T) {
	v := NewFrameValidator(1024)

	err := v.ValidateFrame(wire.TransportMessage{Kind: wire.KindStateUpdate}, 64)
	assert.NoError(t, err)
}
