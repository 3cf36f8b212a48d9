package wire

import (
	"encoding/json"
	"fmt"
)

// jsonCodec implements Codec with conventional JSON objects: a named-field
// envelope carrying whichever payload struct matches Kind.
type jsonCodec struct{}

func (jsonCodec) Encoding() Encoding { return EncodingJSON }

type jsonEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (jsonCodec) Encode(msg TransportMessage) ([]byte, error) {
	if !msg.Kind.IsValid() {
		return nil, fmt.Errorf("wire/json: invalid kind %d", msg.Kind)
	}
	var (
		payload []byte
		err     error
	)
	if u, ok := msg.Payload.(StateUpdateWire); ok {
		payload, err = u.ToJSON()
	} else {
		payload, err = json.Marshal(msg.Payload)
	}
	if err != nil {
		return nil, fmt.Errorf("wire/json: marshal payload: %w", err)
	}
	return json.Marshal(jsonEnvelope{Kind: msg.Kind.String(), Payload: payload})
}

func (jsonCodec) Decode(data []byte) (TransportMessage, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TransportMessage{}, fmt.Errorf("wire/json: unmarshal envelope: %w", err)
	}

	kind, err := kindFromName(env.Kind)
	if err != nil {
		return TransportMessage{}, err
	}

	payload, err := decodeJSONPayload(kind, env.Payload)
	if err != nil {
		return TransportMessage{}, err
	}
	return TransportMessage{Kind: kind, Payload: payload}, nil
}

func kindFromName(name string) (Kind, error) {
	for i, n := range kindNames {
		if i == 0 {
			continue
		}
		if n == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("wire/json: unknown kind %q", name)
}

func decodeJSONPayload(kind Kind, raw json.RawMessage) (any, error) {
	var (
		target any
		err    error
	)
	switch kind {
	case KindJoin:
		var v Join
		err = json.Unmarshal(raw, &v)
		target = v
	case KindJoinResponse:
		var v JoinResponse
		err = json.Unmarshal(raw, &v)
		target = v
	case KindAction:
		var v Action
		err = json.Unmarshal(raw, &v)
		target = v
	case KindActionResponse:
		var v ActionResponse
		err = json.Unmarshal(raw, &v)
		target = v
	case KindEvent:
		var v Event
		err = json.Unmarshal(raw, &v)
		target = v
	case KindError:
		var v ErrorFrame
		err = json.Unmarshal(raw, &v)
		target = &v
	case KindStateUpdate:
		var v jsonStateUpdate
		err = json.Unmarshal(raw, &v)
		target = v.toWire()
	default:
		err = fmt.Errorf("wire/json: unhandled kind %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("wire/json: decode %s payload: %w", kind, err)
	}
	return target, nil
}

// jsonStateUpdate is the JSON-object shape of a stateUpdate frame:
// {type, patches, snapshot?}
type jsonStateUpdate struct {
	Type     string          `json:"type"`
	Snapshot any             `json:"snapshot,omitempty"`
	Patches  []jsonPatchWire `json:"patches,omitempty"`
}

type jsonPatchWire struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

func (j jsonStateUpdate) toWire() StateUpdateWire {
	out := StateUpdateWire{Snapshot: j.Snapshot}
	switch j.Type {
	case "firstSync":
		out.Kind = UpdateFirstSync
	case "diff":
		out.Kind = UpdateDiff
	default:
		out.Kind = UpdateNoChange
	}
	for _, p := range j.Patches {
		out.Patches = append(out.Patches, PatchWire{Path: p.Path, Op: patchOpFromName(p.Op), Value: p.Value})
	}
	return out
}

func patchOpFromName(s string) PatchOp {
	switch s {
	case "set":
		return PatchSet
	case "delete", "remove":
		return PatchRemove
	case "add":
		return PatchAdd
	default:
		return 0
	}
}

// ToJSON converts a StateUpdateWire into the {type, patches, snapshot?} shape.
// jsonCodec.Encode uses it for stateUpdate payloads; StateUpdateWire and
// PatchWire have no MarshalJSON, so a plain json.Marshal of them does not
// produce this shape.
func (u StateUpdateWire) ToJSON() ([]byte, error) {
	out := jsonStateUpdate{Type: u.Kind.String(), Snapshot: u.Snapshot}
	for _, p := range u.Patches {
		out.Patches = append(out.Patches, jsonPatchWire{Path: p.Path, Op: p.Op.String(), Value: p.Value})
	}
	return json.Marshal(out)
}
