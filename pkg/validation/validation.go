// Package validation provides input validation for inbound wire frames. It
// ensures frames are well-formed and action/event payloads meet a Land
// type's declared constraints before a command ever reaches a Keeper.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"landkeeper/pkg/wire"
)

// PayloadValidator checks a single action or client-event payload. It is
// registered per TypeIdentifier by whatever owns the Land type definition,
// so each Land type can enforce its own command shapes without touching
// this package.
type PayloadValidator func(payload json.RawMessage) error

// FrameValidator validates inbound TransportMessages ahead of dispatch. It
// maintains two registries: one for action TypeIdentifiers, one for client
// event types, mirroring how the Transport Adapter routes KindAction and
// KindEvent frames to their respective handlers.
type FrameValidator struct {
	maxFrameSize     int64
	actionValidators map[string]PayloadValidator
	eventValidators  map[string]PayloadValidator
}

// NewFrameValidator creates a FrameValidator enforcing maxFrameSize as the
// hard ceiling on any frame's serialized size, independent of per-type
// payload rules.
func NewFrameValidator(maxFrameSize int64) *FrameValidator {
	return &FrameValidator{
		maxFrameSize:     maxFrameSize,
		actionValidators: make(map[string]PayloadValidator),
		eventValidators:  make(map[string]PayloadValidator),
	}
}

// RegisterActionValidator associates typeIdentifier with a payload
// validator. Re-registering a typeIdentifier overwrites the prior entry.
func (v *FrameValidator) RegisterActionValidator(typeIdentifier string, fn PayloadValidator) {
	v.actionValidators[typeIdentifier] = fn
}

// RegisterEventValidator associates a client-event type with a payload
// validator.
func (v *FrameValidator) RegisterEventValidator(eventType string, fn PayloadValidator) {
	v.eventValidators[eventType] = fn
}

// ValidateFrame checks frameSize against the configured ceiling, then
// dispatches structural validation by the message's Kind. Unknown
// TypeIdentifiers/event types are not rejected here — a Keeper with no
// matching Handler reports ErrUnknownAction itself; this validator only
// enforces the shape of payloads it has been told how to check.
func (v *FrameValidator) ValidateFrame(msg wire.TransportMessage, frameSize int64) error {
	if frameSize > v.maxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum allowed size %d", frameSize, v.maxFrameSize)
	}

	switch msg.Kind {
	case wire.KindJoin:
		join, ok := msg.Payload.(wire.Join)
		if !ok {
			return fmt.Errorf("join frame: unexpected payload type %T", msg.Payload)
		}
		return v.validateJoin(join)
	case wire.KindAction:
		action, ok := msg.Payload.(wire.Action)
		if !ok {
			return fmt.Errorf("action frame: unexpected payload type %T", msg.Payload)
		}
		return v.validateAction(action)
	case wire.KindEvent:
		event, ok := msg.Payload.(wire.Event)
		if !ok {
			return fmt.Errorf("event frame: unexpected payload type %T", msg.Payload)
		}
		return v.validateEvent(event)
	case wire.KindJoinResponse, wire.KindActionResponse, wire.KindError, wire.KindStateUpdate:
		// Server-originated kinds never arrive inbound; nothing to validate.
		return nil
	default:
		return fmt.Errorf("unknown frame kind: %s", msg.Kind)
	}
}

func (v *FrameValidator) validateJoin(join wire.Join) error {
	if err := validateRequestID(join.RequestID); err != nil {
		return err
	}
	if err := validateIdentifier("landType", join.LandType); err != nil {
		return err
	}
	if join.LandInstanceID != "" {
		if err := validateIdentifier("landInstanceId", join.LandInstanceID); err != nil {
			return err
		}
	}
	if join.PlayerID != "" {
		if err := validatePlayerID(join.PlayerID); err != nil {
			return err
		}
	}
	return nil
}

func (v *FrameValidator) validateAction(action wire.Action) error {
	if err := validateRequestID(action.RequestID); err != nil {
		return err
	}
	if err := validateIdentifier("typeIdentifier", action.TypeIdentifier); err != nil {
		return err
	}
	if fn, ok := v.actionValidators[action.TypeIdentifier]; ok {
		return fn(action.Payload)
	}
	return nil
}

func (v *FrameValidator) validateEvent(event wire.Event) error {
	if err := validateIdentifier("type", event.Type); err != nil {
		return err
	}
	if fn, ok := v.eventValidators[event.Type]; ok {
		return fn(event.Payload)
	}
	return nil
}

// Shared structural checks, reused across frame kinds.

func validateRequestID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("requestID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("requestID exceeds 100 characters")
	}
	return nil
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_.:]+$`)

func validateIdentifier(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(value) > 200 {
		return fmt.Errorf("%s exceeds 200 characters", field)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s contains invalid UTF-8", field)
	}
	if !identifierRegex.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters: %s", field, value)
	}
	return nil
}

func validatePlayerID(id string) error {
	return validateIdentifier("playerID", id)
}
