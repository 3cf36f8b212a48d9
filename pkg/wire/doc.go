// Package wire implements the three frame encodings a LandKeeper session may
// negotiate at join time: a conventional JSON object encoding, a compact
// opcode-prefixed JSON array encoding, and a MessagePack encoding that shares
// the opcode-array shape. All three encode the same closed set of message
// kinds and patch operations so that a Keeper never has to know which
// encoding a given session speaks past the point of dispatch.
package wire
