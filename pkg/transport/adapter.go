package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"landkeeper/pkg/land"
	"landkeeper/pkg/validation"
	"landkeeper/pkg/wire"
)

// Realm is the subset of pkg/realm.Registry the adapter needs: resolve a
// join request to a live Keeper, creating one if the landType allows
// auto-create. sink is only consulted when Route must
// construct a brand-new Keeper; an existing Keeper keeps the Sink it was
// built with.
type Realm interface {
	Route(landType, landInstanceID string, sink land.Sink) (*land.Keeper, string, error)
}

// Authenticator validates a bearer token and returns the authenticated
// PlayerID.
type Authenticator func(token string) (playerID string, err error)

// GuestFactory mints a PlayerID (and optional metadata) for an
// unauthenticated join, when the target Land's config allows guest mode.
type GuestFactory func(join *wire.Join) (playerID string, err error)

// Adapter accepts raw Conns, runs each as a Session, and fans out Sync
// Engine output from every Keeper it has routed a session to.
type Adapter struct {
	realm        Realm
	authenticate Authenticator
	guestFactory GuestFactory
	requireAuth  bool

	mu        sync.Mutex
	hubs      map[string]*landHub // landID -> hub
	keepers   map[string]*land.Keeper
	byPlayer  map[string]*Session // playerID -> locally-joined Session, across every landHub
	validator *validation.FrameValidator
	sessions  SessionClaimer
	log       *logrus.Entry

	rateLimitEnabled bool
	rateLimitRPS     float64
	rateLimitBurst   int
}

// SessionClaimer is the subset of pkg/sessionregistry.Registry the Adapter
// needs to enforce single-session-per-player in a multi-node deployment:
// claim a PlayerID on join, release it on disconnect. A single-node
// deployment leaves this unset (nil), and every join is accepted locally
// without a cross-node handshake.
type SessionClaimer interface {
	Claim(ctx context.Context, playerID string) error
	Release(ctx context.Context, playerID string) error
}

// NewAdapter constructs an Adapter. authenticate may be nil if requireAuth
// is false; guestFactory may be nil if guest mode is never used.
func NewAdapter(realm Realm, authenticate Authenticator, guestFactory GuestFactory, requireAuth bool) *Adapter {
	return &Adapter{
		realm:        realm,
		authenticate: authenticate,
		guestFactory: guestFactory,
		requireAuth:  requireAuth,
		hubs:         make(map[string]*landHub),
		keepers:      make(map[string]*land.Keeper),
		byPlayer:     make(map[string]*Session),
		log:          logrus.WithField("component", "transport.Adapter"),
	}
}

// SetValidator attaches a FrameValidator every Session created after this
// call consults before dispatching a decoded frame. Passing nil disables
// frame validation.
func (a *Adapter) SetValidator(v *validation.FrameValidator) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validator = v
}

func (a *Adapter) validateFrame(msg wire.TransportMessage, frameSize int64) error {
	a.mu.Lock()
	v := a.validator
	a.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.ValidateFrame(msg, frameSize)
}

// SetRateLimit configures the per-session inbound-frame token bucket every
// Session created after this call enforces. enabled false (the default)
// leaves sessions unthrottled.
func (a *Adapter) SetRateLimit(enabled bool, requestsPerSecond float64, burst int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rateLimitEnabled = enabled
	a.rateLimitRPS = requestsPerSecond
	a.rateLimitBurst = burst
}

// newRateLimiter builds a fresh per-session limiter from the Adapter's
// configured rate, or nil when rate limiting is disabled.
func (a *Adapter) newRateLimiter() *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.rateLimitEnabled {
		return nil
	}
	return rate.NewLimiter(rate.Limit(a.rateLimitRPS), a.rateLimitBurst)
}

// SetSessionClaimer attaches the single-session-per-player enforcement used
// in multi-node deployments. Passing nil (the default) skips claiming
// entirely.
func (a *Adapter) SetSessionClaimer(sc SessionClaimer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = sc
}

func (a *Adapter) claimSession(ctx context.Context, playerID string) error {
	a.mu.Lock()
	sc := a.sessions
	a.mu.Unlock()
	if sc == nil {
		return nil
	}
	return sc.Claim(ctx, playerID)
}

func (a *Adapter) releaseSession(playerID string) {
	a.mu.Lock()
	sc := a.sessions
	a.mu.Unlock()
	if sc == nil {
		return
	}
	_ = sc.Release(context.Background(), playerID)
}

// Accept begins serving a newly-accepted connection as a Session. It blocks
// until the session closes; callers run it per-connection in its own
// goroutine.
func (a *Adapter) Accept(conn Conn) {
	sess := newSession(conn, a, uuid.NewString())
	sess.Serve()
}

func (a *Adapter) resolvePlayer(join *wire.Join) (string, error) {
	if join.Token != "" && a.authenticate != nil {
		return a.authenticate(join.Token)
	}
	if a.requireAuth {
		return "", fmt.Errorf("authentication required")
	}
	if a.guestFactory == nil {
		if join.PlayerID != "" {
			return join.PlayerID, nil
		}
		return "", fmt.Errorf("no playerID and guest mode unavailable")
	}
	return a.guestFactory(join)
}

func (a *Adapter) route(join *wire.Join) (*land.Keeper, string, *landHub, error) {
	// The hub is cached by a provisional key (landType:instanceId, possibly
	// empty instanceId) before the call and by the Realm's resolved LandID
	// after, so a brand-new instance's sink is ready before Route uses it,
	// and a second join to the same live instance reuses the same hub.
	provisional := join.LandType + ":" + join.LandInstanceID

	a.mu.Lock()
	hub, ok := a.hubs[provisional]
	if !ok {
		hub = newLandHub(provisional)
	}
	a.mu.Unlock()

	keeper, landID, err := a.realm.Route(join.LandType, join.LandInstanceID, hub)
	if err != nil {
		return nil, "", nil, err
	}

	a.mu.Lock()
	delete(a.hubs, provisional)
	a.keepers[landID] = keeper
	if existing, ok := a.hubs[landID]; ok {
		hub = existing
	} else {
		hub.landID = landID
		a.hubs[landID] = hub
	}
	a.mu.Unlock()

	return keeper, landID, hub, nil
}

func (a *Adapter) keeperFor(landID string) *land.Keeper {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keepers[landID]
}

// registerSession/unregisterSession track the locally-joined Session for a
// playerID across every landHub, so KickPlayer can find it without knowing
// which Land the player joined. unregisterSession only clears the entry if
// it still points at s: a player who reconnects (new Session joins) before
// the old Session's closeInternal runs must not have the new registration
// clobbered by the old one's teardown.
func (a *Adapter) registerSession(playerID string, s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byPlayer[playerID] = s
}

func (a *Adapter) unregisterSession(playerID string, s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.byPlayer[playerID] == s {
		delete(a.byPlayer, playerID)
	}
}

// KickPlayer force-closes playerID's locally-joined Session, if any is
// currently held by this Adapter. It is the local half of a multi-node
// kick: a SessionClaimer's Kicks() feed names a playerID claimed
// elsewhere, and the node that used to hold that player's Session calls
// this to drop it. Returns false if no local Session is currently joined
// for that player.
func (a *Adapter) KickPlayer(playerID, reason string) bool {
	a.mu.Lock()
	sess := a.byPlayer[playerID]
	a.mu.Unlock()
	if sess == nil {
		return false
	}
	sess.closeInternal(reason)
	return true
}

// landHub is the per-Keeper set of joined sessions; it implements
// land.Sink and applies the fan-out drop/reliable policy.
type landHub struct {
	landID string
	mu     sync.Mutex
	byID   map[string]*Session
	log    *logrus.Entry
}

func newLandHub(landID string) *landHub {
	return &landHub{landID: landID, byID: make(map[string]*Session), log: logrus.WithFields(logrus.Fields{"component": "transport.landHub", "landID": landID})}
}

func (h *landHub) addSession(playerID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[playerID] = s
}

func (h *landHub) removeSession(playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, playerID)
}

// DeliverUpdate implements land.Sink. Sync frames are best-effort: a slow
// client that can't accept the write has its sync frame dropped, never the
// Keeper loop blocked.
func (h *landHub) DeliverUpdate(playerID string, update wire.StateUpdateWire) {
	h.mu.Lock()
	sess := h.byID[playerID]
	h.mu.Unlock()
	if sess == nil {
		return
	}
	sess.send(wire.TransportMessage{Kind: wire.KindStateUpdate, Payload: update}, true)
}

// DeliverEvents implements land.Sink. Event frames must be reliably
// delivered or the session killed — this adapter treats any
// write failure on an event frame as session-fatal, which Session.send
// already enforces by closing on write error.
func (h *landHub) DeliverEvents(events []land.OutgoingEvent) {
	h.mu.Lock()
	sessions := make(map[string]*Session, len(h.byID))
	for id, s := range h.byID {
		sessions[id] = s
	}
	h.mu.Unlock()

	for _, ev := range events {
		for playerID, sess := range sessions {
			if !ev.Target.Matches(playerID, ev.OriginatorID) {
				continue
			}
			payload, _ := json.Marshal(ev.Payload)
			sess.send(wire.TransportMessage{Kind: wire.KindEvent, Payload: wire.Event{
				Direction: wire.EventFromServer,
				Type:      ev.Type,
				Payload:   payload,
			}}, false)
		}
	}
}

// Shutdown implements land.Sink: close every joined session with a
// land-shutdown reason.
func (h *landHub) Shutdown(reason string) {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.byID))
	for _, s := range h.byID {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.closeInternal(reason)
	}
}
