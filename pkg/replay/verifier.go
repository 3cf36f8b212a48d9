package replay

import (
	"context"
	"fmt"

	"landkeeper/pkg/land"
	"landkeeper/pkg/metrics"
	"landkeeper/pkg/wire"
)

// DefinitionFactory builds a fresh land.Definition for the Land type being
// re-evaluated, given the LandID being verified. It must be the same
// factory the original recording ran against (typically realm.Factory
// itself) so that a Land type whose initial state is seeded from its
// LandID — e.g. the dungeon example's procedural generation — regenerates
// the identical starting state on every replay.
type DefinitionFactory func(landID string) (land.Definition, error)

// Mismatch is one tick whose recomputed state hash disagreed with what was
// recorded.
type Mismatch struct {
	TickID     uint64
	Recorded   uint64
	Recomputed uint64
}

// Result is the outcome of verifying a recorded Session.
type Result struct {
	// Matches is true when every recomputed hash equals its recorded hash.
	Matches bool
	// InternalDeterminism is true when two independent re-evaluations of the
	// same Session, on this host, produced identical hash chains.
	InternalDeterminism bool
	Mismatches          []Mismatch
}

// Verifier re-drives a recorded Session against a fresh Keeper of the same
// Land type and checks its hash chain.
type Verifier struct {
	factory  DefinitionFactory
	cfg      land.Config
	services *land.Services
}

// NewVerifier builds a Verifier. cfg.TickInterval is ignored: replay always
// drives ticks explicitly, one per recorded TickRecord, so re-evaluation
// isn't at the mercy of wall-clock scheduling.
func NewVerifier(factory DefinitionFactory, cfg land.Config, services *land.Services) *Verifier {
	return &Verifier{factory: factory, cfg: cfg, services: services}
}

// Verify re-evaluates session twice and reports whether the recomputed
// hashes match the recorded ones, and whether the two re-evaluations agree
// with each other.
func (v *Verifier) Verify(session *Session) (*Result, error) {
	first, err := v.replayOnce(session)
	if err != nil {
		metrics.Default.ReplayVerifierRun("error")
		return nil, fmt.Errorf("replay: first re-evaluation: %w", err)
	}
	second, err := v.replayOnce(session)
	if err != nil {
		metrics.Default.ReplayVerifierRun("error")
		return nil, fmt.Errorf("replay: second re-evaluation: %w", err)
	}

	result := &Result{Matches: true, InternalDeterminism: true}

	for i := range first {
		if i >= len(second) || first[i] != second[i] {
			result.InternalDeterminism = false
			break
		}
	}

	for i, tr := range session.Ticks {
		if i >= len(first) {
			break
		}
		if first[i] != tr.StateHash {
			result.Matches = false
			result.Mismatches = append(result.Mismatches, Mismatch{
				TickID:     tr.TickID,
				Recorded:   tr.StateHash,
				Recomputed: first[i],
			})
		}
	}

	if result.Matches {
		metrics.Default.ReplayVerifierRun("match")
	} else {
		metrics.Default.ReplayVerifierRun("mismatch")
	}

	return result, nil
}

// replayOnce drives a fresh Keeper through every recorded tick in order and
// returns the recomputed state hash after each one, aligned with
// session.Ticks.
func (v *Verifier) replayOnce(session *Session) ([]uint64, error) {
	def, err := v.factory(session.Header.LandID)
	if err != nil {
		return nil, fmt.Errorf("building definition: %w", err)
	}

	cfg := v.cfg
	cfg.TickInterval = 0 // each recorded tick is advanced explicitly below

	keeper, err := land.NewKeeper(session.Header.LandID, def, cfg, v.services, discardSink{})
	if err != nil {
		return nil, fmt.Errorf("constructing replay keeper: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go keeper.Run(ctx)
	defer func() {
		keeper.Stop()
		cancel()
	}()

	hashes := make([]uint64, 0, len(session.Ticks))
	for _, tick := range session.Ticks {
		for _, lc := range tick.LifecycleEvents {
			switch lc.Kind {
			case "join":
				keeper.Submit(&land.Command{Kind: land.CommandJoin, PlayerID: lc.PlayerID})
			case "leave":
				keeper.Submit(&land.Command{Kind: land.CommandLeave, PlayerID: lc.PlayerID})
			}
		}
		for _, a := range tick.Actions {
			keeper.Submit(&land.Command{
				Kind:           land.CommandAction,
				PlayerID:       a.PlayerID,
				TypeIdentifier: a.TypeIdentifier,
				Payload:        a.Payload,
				RequestID:      a.RequestID,
			})
		}
		for _, e := range tick.ClientEvents {
			keeper.Submit(&land.Command{
				Kind:           land.CommandClientEvent,
				PlayerID:       e.PlayerID,
				TypeIdentifier: e.Type,
				Payload:        e.Payload,
			})
		}

		// The command channel is FIFO and single-consumer, so this query is
		// guaranteed to observe every command submitted ahead of it above.
		resp, err := keeper.Query(ctx, "stateHash")
		if err != nil {
			return nil, fmt.Errorf("tick %d: %w", tick.TickID, err)
		}
		hash, ok := resp.(uint64)
		if !ok {
			return nil, fmt.Errorf("tick %d: stateHash query returned unexpected type %T", tick.TickID, resp)
		}
		hashes = append(hashes, hash)
	}

	return hashes, nil
}

// discardSink is a land.Sink that drops everything: the Verifier only cares
// about the resulting state hash, never about what would have gone out over
// the wire.
type discardSink struct{}

func (discardSink) DeliverUpdate(playerID string, update wire.StateUpdateWire) {}
func (discardSink) DeliverEvents(events []land.OutgoingEvent)                  {}
func (discardSink) Shutdown(reason string)                                     {}
