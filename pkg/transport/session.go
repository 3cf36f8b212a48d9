package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"landkeeper/pkg/land"
	"landkeeper/pkg/metrics"
	"landkeeper/pkg/wire"
)

// State is a Session's position in the join state machine.
type State int

const (
	StateNew State = iota
	StateAwaitingJoin
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingJoin:
		return "awaitingJoin"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one client connection's adapter-side state.
type Session struct {
	conn     Conn
	adapter  *Adapter
	jsonCdc  wire.Codec // handshake lingua franca, always JSON
	codec    wire.Codec // negotiated; valid once Joined

	mu        sync.Mutex
	state     State
	sessionID string
	playerID  string
	landID    string
	hub       *landHub

	// outbox decouples the writer from callers. Sync frames are sent via a
	// non-blocking enqueue (dropped on a full outbox); event
	// frames block until there is room, and a failed write kills the
	// session, since event delivery must be reliable or the session closed.
	// stop is closed exactly once (guarded by closeOnce) to unblock any
	// pending outbox sends and let writeLoop exit without ever closing
	// outbox itself, so a late sendReliable/sendDroppable never panics.
	outbox    chan []byte
	stop      chan struct{}
	closeOnce sync.Once

	// limiter throttles inbound frames for this session; nil when the
	// Adapter has rate limiting disabled.
	limiter *rate.Limiter

	log *logrus.Entry
}

// outboxCapacity bounds how many outbound frames queue up for a slow
// client before sync frames start being dropped.
const outboxCapacity = 64

func newSession(conn Conn, adapter *Adapter, sessionID string) *Session {
	jsonCdc, _ := wire.NewCodec(wire.EncodingJSON)
	s := &Session{
		conn:      conn,
		adapter:   adapter,
		jsonCdc:   jsonCdc,
		codec:     jsonCdc,
		state:     StateNew,
		sessionID: sessionID,
		outbox:    make(chan []byte, outboxCapacity),
		stop:      make(chan struct{}),
		limiter:   adapter.newRateLimiter(),
		log:       logrus.WithFields(logrus.Fields{"component": "transport.Session", "sessionID": sessionID}),
	}
	metrics.Default.WebSocketConnection("connected")
	go s.writeLoop()
	return s
}

// writeLoop is the session's single writer, draining the outbox so no two
// goroutines ever call conn.WriteFrame concurrently. It exits once stop is
// closed, rather than waiting on outbox to close, so outbox itself never
// needs closing (and a racing sendReliable/sendDroppable never panics on a
// send to a closed channel).
func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.outbox:
			if err := s.conn.WriteFrame(data); err != nil {
				s.log.WithError(err).Debug("write failed, closing session")
				s.closeInternal("write failure")
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Serve reads frames from conn until it errors or closes, dispatching each
// to HandleFrame. It blocks; callers run it in its own goroutine per
// connection.
func (s *Session) Serve() {
	defer s.closeInternal("connection closed")
	for {
		raw, err := s.conn.ReadFrame()
		if err != nil {
			return
		}
		if err := s.HandleFrame(raw); err != nil {
			s.log.WithError(err).Debug("frame handling ended the session")
			return
		}
	}
}

// HandleFrame decodes and dispatches one inbound frame according to the
// session's current state.
func (s *Session) HandleFrame(raw []byte) error {
	if s.limiter != nil && !s.limiter.Allow() {
		s.sendError("", wire.ErrRateLimited, "too many frames")
		return nil
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateNew, StateAwaitingJoin:
		msg, err := s.jsonCdc.Decode(raw)
		if err != nil || msg.Kind != wire.KindJoin {
			s.sendError("", wire.ErrProtocolInvalid, "expected a join frame")
			s.closeInternal("protocol violation")
			return fmt.Errorf("transport: expected join, got err=%v kind=%v", err, msg.Kind)
		}
		join, ok := msg.Payload.(wire.Join)
		if !ok {
			s.sendError("", wire.ErrInvalidFrame, "malformed join payload")
			s.closeInternal("protocol violation")
			return fmt.Errorf("transport: malformed join payload")
		}
		if err := s.adapter.validateFrame(msg, int64(len(raw))); err != nil {
			s.sendError(join.RequestID, wire.ErrInvalidFrame, err.Error())
			s.closeInternal("frame validation failed")
			return err
		}
		return s.handleJoin(&join)

	case StateJoined:
		msg, err := s.codec.Decode(raw)
		if err != nil {
			s.sendError("", wire.ErrInvalidFrame, err.Error())
			return nil
		}
		metrics.Default.WebSocketMessage("inbound", msg.Kind.String())
		if err := s.adapter.validateFrame(msg, int64(len(raw))); err != nil {
			s.sendError(requestIDOf(msg), wire.ErrInvalidFrame, err.Error())
			return nil
		}
		switch msg.Kind {
		case wire.KindJoin:
			s.sendError("", wire.ErrProtocolInvalid, "already joined")
			return nil
		case wire.KindAction:
			return s.handleAction(msg)
		case wire.KindEvent:
			return s.handleClientEvent(msg)
		default:
			s.sendError("", wire.ErrInvalidFrame, fmt.Sprintf("unexpected frame kind %s while joined", msg.Kind))
			return nil
		}

	default: // StateClosed
		return nil
	}
}

func (s *Session) handleJoin(join *wire.Join) error {
	s.mu.Lock()
	s.state = StateAwaitingJoin
	s.mu.Unlock()

	playerID, err := s.adapter.resolvePlayer(join)
	if err != nil {
		s.sendError(join.RequestID, wire.ErrUnauthorized, err.Error())
		s.closeInternal("unauthorized")
		return err
	}

	if err := s.adapter.claimSession(context.Background(), playerID); err != nil {
		s.sendError(join.RequestID, wire.ErrUnauthorized, "session already active on another node")
		s.closeInternal("session claim failed")
		return err
	}

	keeper, landID, hub, err := s.adapter.route(join)
	if err != nil {
		code := wire.ErrLandNotFound
		s.sendError(join.RequestID, code, err.Error())
		s.closeInternal("land not found")
		return err
	}

	encoding := negotiateEncoding(join.Encoding)
	codec, err := wire.NewCodec(encoding)
	if err != nil {
		s.sendError(join.RequestID, wire.ErrInvalidFrame, err.Error())
		s.closeInternal("bad encoding")
		return err
	}

	result := make(chan land.CommandResult, 1)
	keeper.Submit(&land.Command{Kind: land.CommandJoin, PlayerID: playerID, SessionID: s.sessionID, RequestID: join.RequestID, Result: result})

	var res land.CommandResult
	select {
	case res = <-result:
	case <-time.After(keeper.JoinTimeout()):
		s.sendError(join.RequestID, wire.ErrTimeout, "join timed out waiting for land")
		s.closeInternal("join timed out")
		return fmt.Errorf("transport: join timed out for player %q", playerID)
	}
	if res.Err != nil {
		s.sendError(join.RequestID, wire.ErrLandFull, res.Err.Error())
		s.closeInternal("join rejected")
		return res.Err
	}

	s.mu.Lock()
	s.playerID = playerID
	s.landID = landID
	s.hub = hub
	s.codec = codec
	s.state = StateJoined
	s.mu.Unlock()

	hub.addSession(playerID, s)
	s.adapter.registerSession(playerID, s)

	s.send(wire.TransportMessage{Kind: wire.KindJoinResponse, Payload: wire.JoinResponse{
		RequestID:      join.RequestID,
		Success:        true,
		LandType:       join.LandType,
		LandInstanceID: landID,
		LandID:         landID,
		PlayerSlot:     res.PlayerSlot,
		Encoding:       string(encoding),
	}}, false)
	return nil
}

func (s *Session) handleAction(msg wire.TransportMessage) error {
	action, ok := msg.Payload.(wire.Action)
	if !ok {
		s.sendError("", wire.ErrInvalidFrame, "malformed action payload")
		return nil
	}
	s.mu.Lock()
	keeper := s.adapter.keeperFor(s.landID)
	playerID, sessionID := s.playerID, s.sessionID
	s.mu.Unlock()
	if keeper == nil {
		s.sendError(action.RequestID, wire.ErrLandNotFound, "land no longer exists")
		return nil
	}

	result := make(chan land.CommandResult, 1)
	keeper.Submit(&land.Command{
		Kind: land.CommandAction, PlayerID: playerID, SessionID: sessionID,
		TypeIdentifier: action.TypeIdentifier, Payload: action.Payload, RequestID: action.RequestID,
		Result: result,
	})
	go func() {
		res := <-result
		if res.Err != nil {
			s.sendErrorFrame(action.RequestID, res.Err)
			return
		}
		s.send(wire.TransportMessage{Kind: wire.KindActionResponse, Payload: wire.ActionResponse{
			RequestID: action.RequestID, Response: res.Response,
		}}, false)
	}()
	return nil
}

func (s *Session) handleClientEvent(msg wire.TransportMessage) error {
	event, ok := msg.Payload.(wire.Event)
	if !ok {
		s.sendError("", wire.ErrInvalidFrame, "malformed event payload")
		return nil
	}
	s.mu.Lock()
	keeper := s.adapter.keeperFor(s.landID)
	playerID, sessionID := s.playerID, s.sessionID
	s.mu.Unlock()
	if keeper == nil {
		return nil
	}
	keeper.Submit(&land.Command{
		Kind: land.CommandClientEvent, PlayerID: playerID, SessionID: sessionID,
		TypeIdentifier: event.Type, Payload: event.Payload,
	})
	return nil
}

// requestIDOf extracts the RequestID from whichever payload msg carries, so
// a validation failure can be correlated to the request that caused it.
func requestIDOf(msg wire.TransportMessage) string {
	switch p := msg.Payload.(type) {
	case wire.Action:
		return p.RequestID
	case wire.Join:
		return p.RequestID
	default:
		return ""
	}
}

// negotiateEncoding returns the client's proposed encoding if valid,
// downgrading to JSON otherwise.
func negotiateEncoding(proposed string) wire.Encoding {
	e := wire.Encoding(proposed)
	if e.IsValid() {
		return e
	}
	return wire.EncodingJSON
}

// encode serializes msg with the session's currently negotiated codec.
func (s *Session) encode(msg wire.TransportMessage) ([]byte, error) {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	metrics.Default.WebSocketMessage("outbound", msg.Kind.String())
	return codec.Encode(msg)
}

// send delivers msg through sendDroppable when droppable is true and
// through sendReliable otherwise.
func (s *Session) send(msg wire.TransportMessage, droppable bool) {
	if droppable {
		s.sendDroppable(msg)
		return
	}
	s.sendReliable(msg)
}

// sendReliable enqueues msg for delivery, blocking if the outbox is full.
// Used for join/action responses and event frames, which must be reliably
// delivered or the session killed.
func (s *Session) sendReliable(msg wire.TransportMessage) {
	data, err := s.encode(msg)
	if err != nil {
		s.log.WithError(err).Error("failed to encode outbound frame")
		return
	}
	select {
	case s.outbox <- data:
	case <-s.stop:
	}
}

// sendDroppable enqueues msg only if the outbox has room, silently dropping
// it otherwise. Used for periodic sync frames: clients detect a gap via
// sequence numbers and recover with a resync
func (s *Session) sendDroppable(msg wire.TransportMessage) {
	data, err := s.encode(msg)
	if err != nil {
		s.log.WithError(err).Error("failed to encode outbound frame")
		return
	}
	select {
	case s.outbox <- data:
	case <-s.stop:
	default:
		s.log.Debug("outbox full, dropping sync frame")
	}
}

func (s *Session) sendError(requestID string, code wire.ErrorCode, message string) {
	s.sendReliable(wire.TransportMessage{Kind: wire.KindError, Payload: &wire.ErrorFrame{RequestID: requestID, Code: code, Message: message}})
}

func (s *Session) sendErrorFrame(requestID string, err error) {
	ef := land.HandlerError(err)
	ef.RequestID = requestID
	s.sendReliable(wire.TransportMessage{Kind: wire.KindError, Payload: ef})
}

func (s *Session) closeInternal(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	playerID, landID, hub := s.playerID, s.landID, s.hub
	s.mu.Unlock()

	metrics.Default.WebSocketConnection("disconnected")
	s.closeOnce.Do(func() { close(s.stop) })

	if hub != nil {
		hub.removeSession(playerID)
	}
	if playerID != "" && landID != "" {
		if keeper := s.adapter.keeperFor(landID); keeper != nil {
			keeper.Submit(&land.Command{Kind: land.CommandLeave, PlayerID: playerID})
		}
	}
	if playerID != "" {
		s.adapter.releaseSession(playerID)
		s.adapter.unregisterSession(playerID, s)
	}
	_ = s.conn.Close(reason)
}
