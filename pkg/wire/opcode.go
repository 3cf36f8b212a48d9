package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// opcodeCodec implements Codec for both the JSON opcode-array encoding and
// the MessagePack encoding: both share the same positional-array shape
//; only the final serialization layer differs.
type opcodeCodec struct {
	binary bool // true => MessagePack, false => JSON array
}

func (c opcodeCodec) Encoding() Encoding {
	if c.binary {
		return EncodingMsgpack
	}
	return EncodingOpcode
}

func (c opcodeCodec) marshal(v any) ([]byte, error) {
	if c.binary {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func (c opcodeCodec) unmarshal(data []byte, v any) error {
	if c.binary {
		return msgpack.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func (c opcodeCodec) Encode(msg TransportMessage) ([]byte, error) {
	arr, err := encodeArray(msg)
	if err != nil {
		return nil, err
	}
	out, err := c.marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("wire/opcode: marshal: %w", err)
	}
	return out, nil
}

func (c opcodeCodec) Decode(data []byte) (TransportMessage, error) {
	var arr []any
	if err := c.unmarshal(data, &arr); err != nil {
		return TransportMessage{}, fmt.Errorf("wire/opcode: unmarshal: %w", err)
	}
	return decodeArray(arr)
}

// EncodeMerged builds the MessagePack-only merged frame
// [107, stateUpdateArray, eventsArray]. It is only ever used
// with the MessagePack codec; callers must not invoke it on the JSON codecs.
func (c opcodeCodec) EncodeMerged(update StateUpdateWire, events []Event) ([]byte, error) {
	if !c.binary {
		return nil, fmt.Errorf("wire/opcode: event merging requires messagepack encoding")
	}
	updateArr, err := stateUpdateToArray(update)
	if err != nil {
		return nil, err
	}
	eventArrs := make([]any, 0, len(events))
	for _, ev := range events {
		a, err := eventToArray(ev)
		if err != nil {
			return nil, err
		}
		eventArrs = append(eventArrs, a)
	}
	out, err := c.marshal([]any{MergedEventsOpcode, updateArr, eventArrs})
	if err != nil {
		return nil, fmt.Errorf("wire/opcode: marshal merged frame: %w", err)
	}
	return out, nil
}

func encodeArray(msg TransportMessage) ([]any, error) {
	opcode, err := messageOpcode(msg.Kind)
	if err != nil {
		return nil, err
	}

	switch msg.Kind {
	case KindJoin:
		j, ok := msg.Payload.(Join)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not Join")
		}
		return []any{opcode, j.RequestID, j.LandType, j.LandInstanceID, j.PlayerID, j.DeviceID, j.Token, j.Encoding, j.Metadata}, nil
	case KindJoinResponse:
		j, ok := msg.Payload.(JoinResponse)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not JoinResponse")
		}
		return []any{opcode, j.RequestID, j.Success, j.LandType, j.LandInstanceID, j.LandID, j.PlayerSlot, j.Encoding, j.Reason}, nil
	case KindAction:
		a, ok := msg.Payload.(Action)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not Action")
		}
		return []any{opcode, a.RequestID, a.TypeIdentifier, json.RawMessage(a.Payload)}, nil
	case KindActionResponse:
		a, ok := msg.Payload.(ActionResponse)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not ActionResponse")
		}
		return []any{opcode, a.RequestID, a.Response}, nil
	case KindEvent:
		e, ok := msg.Payload.(Event)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not Event")
		}
		arr, err := eventToArray(e)
		if err != nil {
			return nil, err
		}
		return append([]any{opcode}, arr[1:]...), nil
	case KindError:
		e, ok := msg.Payload.(*ErrorFrame)
		if !ok {
			ev, ok2 := msg.Payload.(ErrorFrame)
			if !ok2 {
				return nil, fmt.Errorf("wire/opcode: payload is not ErrorFrame")
			}
			e = &ev
		}
		return []any{opcode, e.RequestID, string(e.Code), e.Message, e.Details}, nil
	case KindStateUpdate:
		u, ok := msg.Payload.(StateUpdateWire)
		if !ok {
			return nil, fmt.Errorf("wire/opcode: payload is not StateUpdateWire")
		}
		inner, err := stateUpdateToArray(u)
		if err != nil {
			return nil, err
		}
		return append([]any{opcode}, inner...), nil
	default:
		return nil, fmt.Errorf("wire/opcode: unhandled kind %s", msg.Kind)
	}
}

func eventToArray(e Event) ([]any, error) {
	return []any{int(KindEvent), int(e.Direction), e.Type, json.RawMessage(e.Payload), e.RawBody}, nil
}

func stateUpdateToArray(u StateUpdateWire) ([]any, error) {
	arr := []any{updateOpcode(u.Kind)}
	if u.Kind == UpdateFirstSync {
		arr = append(arr, u.Snapshot)
	} else {
		arr = append(arr, nil)
	}
	for _, p := range u.Patches {
		opc, err := patchOpcode(p.Op)
		if err != nil {
			return nil, err
		}
		arr = append(arr, []any{p.Path, opc, p.Value})
	}
	return arr, nil
}

func decodeArray(arr []any) (TransportMessage, error) {
	if len(arr) == 0 {
		return TransportMessage{}, fmt.Errorf("wire/opcode: empty frame")
	}
	opcode, err := asInt(arr[0])
	if err != nil {
		return TransportMessage{}, fmt.Errorf("wire/opcode: opcode: %w", err)
	}
	kind, err := kindFromOpcode(opcode)
	if err != nil {
		return TransportMessage{}, err
	}

	switch kind {
	case KindJoin:
		if len(arr) < 9 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short join frame")
		}
		return TransportMessage{Kind: kind, Payload: Join{
			RequestID:      asString(arr[1]),
			LandType:       asString(arr[2]),
			LandInstanceID: asString(arr[3]),
			PlayerID:       asString(arr[4]),
			DeviceID:       asString(arr[5]),
			Token:          asString(arr[6]),
			Encoding:       asString(arr[7]),
			Metadata:       asStringMap(arr[8]),
		}}, nil
	case KindJoinResponse:
		if len(arr) < 9 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short joinResponse frame")
		}
		slot, _ := asInt(arr[6])
		return TransportMessage{Kind: kind, Payload: JoinResponse{
			RequestID:      asString(arr[1]),
			Success:        asBool(arr[2]),
			LandType:       asString(arr[3]),
			LandInstanceID: asString(arr[4]),
			LandID:         asString(arr[5]),
			PlayerSlot:     slot,
			Encoding:       asString(arr[7]),
			Reason:         asString(arr[8]),
		}}, nil
	case KindAction:
		if len(arr) < 4 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short action frame")
		}
		payload, err := asRawMessage(arr[3])
		if err != nil {
			return TransportMessage{}, err
		}
		return TransportMessage{Kind: kind, Payload: Action{
			RequestID:      asString(arr[1]),
			TypeIdentifier: asString(arr[2]),
			Payload:        payload,
		}}, nil
	case KindActionResponse:
		if len(arr) < 3 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short actionResponse frame")
		}
		return TransportMessage{Kind: kind, Payload: ActionResponse{
			RequestID: asString(arr[1]),
			Response:  arr[2],
		}}, nil
	case KindEvent:
		if len(arr) < 5 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short event frame")
		}
		dir, _ := asInt(arr[1])
		payload, err := asRawMessage(arr[3])
		if err != nil {
			return TransportMessage{}, err
		}
		return TransportMessage{Kind: kind, Payload: Event{
			Direction: EventDirection(dir),
			Type:      asString(arr[2]),
			Payload:   payload,
			RawBody:   asString(arr[4]),
		}}, nil
	case KindError:
		if len(arr) < 5 {
			return TransportMessage{}, fmt.Errorf("wire/opcode: short error frame")
		}
		return TransportMessage{Kind: kind, Payload: &ErrorFrame{
			RequestID: asString(arr[1]),
			Code:      ErrorCode(asString(arr[2])),
			Message:   asString(arr[3]),
			Details:   asString(arr[4]),
		}}, nil
	case KindStateUpdate:
		u, err := arrayToStateUpdate(arr[1:])
		if err != nil {
			return TransportMessage{}, err
		}
		return TransportMessage{Kind: kind, Payload: u}, nil
	default:
		return TransportMessage{}, fmt.Errorf("wire/opcode: unhandled kind %s", kind)
	}
}

func arrayToStateUpdate(fields []any) (StateUpdateWire, error) {
	if len(fields) < 1 {
		return StateUpdateWire{}, fmt.Errorf("wire/opcode: empty stateUpdate fields")
	}
	updOp, err := asInt(fields[0])
	if err != nil {
		return StateUpdateWire{}, fmt.Errorf("wire/opcode: update kind: %w", err)
	}
	kind, err := updateKindFromOpcode(updOp)
	if err != nil {
		return StateUpdateWire{}, err
	}
	out := StateUpdateWire{Kind: kind}
	if len(fields) > 1 {
		out.Snapshot = fields[1]
	}
	for _, raw := range fields[2:] {
		patchArr, ok := raw.([]any)
		if !ok {
			return StateUpdateWire{}, fmt.Errorf("wire/opcode: patch entry is not an array")
		}
		if len(patchArr) < 2 {
			return StateUpdateWire{}, fmt.Errorf("wire/opcode: short patch entry")
		}
		opc, err := asInt(patchArr[1])
		if err != nil {
			return StateUpdateWire{}, fmt.Errorf("wire/opcode: patch op: %w", err)
		}
		op, err := patchOpFromOpcode(opc)
		if err != nil {
			return StateUpdateWire{}, err
		}
		var value any
		if len(patchArr) > 2 {
			value = patchArr[2]
		}
		out.Patches = append(out.Patches, PatchWire{
			Path:  asString(patchArr[0]),
			Op:    op,
			Value: value,
		})
	}
	return out, nil
}

// DecodeMerged parses a MessagePack merged frame previously produced by
// EncodeMerged: [107, stateUpdateArray, eventsArray].
func (c opcodeCodec) DecodeMerged(data []byte) (StateUpdateWire, []Event, error) {
	if !c.binary {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: event merging requires messagepack encoding")
	}
	var arr []any
	if err := c.unmarshal(data, &arr); err != nil {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: unmarshal merged frame: %w", err)
	}
	if len(arr) != 3 {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: merged frame must have 3 elements")
	}
	opc, err := asInt(arr[0])
	if err != nil || opc != MergedEventsOpcode {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: not a merged-events frame")
	}
	updArr, ok := arr[1].([]any)
	if !ok {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: merged frame state update is not an array")
	}
	update, err := arrayToStateUpdate(updArr)
	if err != nil {
		return StateUpdateWire{}, nil, err
	}
	evArr, ok := arr[2].([]any)
	if !ok {
		return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: merged frame events is not an array")
	}
	events := make([]Event, 0, len(evArr))
	for _, raw := range evArr {
		fields, ok := raw.([]any)
		if !ok || len(fields) < 5 {
			return StateUpdateWire{}, nil, fmt.Errorf("wire/opcode: malformed merged event entry")
		}
		dir, _ := asInt(fields[1])
		payload, err := asRawMessage(fields[3])
		if err != nil {
			return StateUpdateWire{}, nil, err
		}
		events = append(events, Event{
			Direction: EventDirection(dir),
			Type:      asString(fields[2]),
			Payload:   payload,
			RawBody:   asString(fields[4]),
		})
	}
	return update, events, nil
}
