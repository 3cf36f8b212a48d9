// Package validation checks inbound wire frames before a command reaches a
// Keeper.
//
// # Creating a Validator
//
// Create a FrameValidator with a maximum frame size limit, then register a
// PayloadValidator per action TypeIdentifier and client-event type that the
// owning Land type declares:
//
//	v := validation.NewFrameValidator(64 * 1024)
//	v.RegisterActionValidator("move", validateMovePayload)
//	v.RegisterEventValidator("chat", validateChatPayload)
//
// # Validating Frames
//
// The Transport Adapter calls ValidateFrame on every decoded
// wire.TransportMessage before submitting the corresponding land.Command:
//
//	if err := v.ValidateFrame(msg, frameSize); err != nil {
//	    return fmt.Errorf("invalid frame: %w", err)
//	}
//
// # Structural Checks
//
// Every frame kind gets the same baseline checks regardless of any
// per-type PayloadValidator: requestID/typeIdentifier/event-type presence,
// length ceilings, and UTF-8 validity. TypeIdentifiers and event types with
// no registered validator are passed through unchecked — a Keeper with no
// matching Handler reports ErrUnknownAction itself, so this package never
// needs to know the full set of valid action names for every Land type.
package validation
