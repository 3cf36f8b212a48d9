package wire

import (
	"encoding/json"
	"fmt"
)

// The opcode-array encodings decode into []any regardless of whether the
// underlying serializer was encoding/json (which yields float64 for numbers
// and map[string]any for objects) or msgpack (which preserves integer
// types). These helpers normalize across both.

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return int(n), nil
	case float64:
		return int(n), nil
	case nil:
		return 0, fmt.Errorf("wire: expected integer, got nil")
	default:
		return 0, fmt.Errorf("wire: expected integer, got %T", v)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asStringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// asRawMessage re-encodes an already-decoded value back into JSON bytes so
// callers that expect json.RawMessage (e.g. Action.Payload) see a consistent
// type regardless of which codec decoded the outer frame.
func asRawMessage(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case []byte:
		return json.RawMessage(t), nil
	case string:
		return json.RawMessage(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("wire: re-encode payload: %w", err)
		}
		return b, nil
	}
}
