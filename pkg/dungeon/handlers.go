package dungeon

import (
	"encoding/json"
	"fmt"

	"landkeeper/pkg/land"
	"landkeeper/pkg/state"
	"landkeeper/pkg/wire"
)

// movePayload is the "move" action's body: a single-step delta.
type movePayload struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// attackPayload is the "attack" action's body.
type attackPayload struct {
	TargetPlayerID string `json:"targetPlayerId"`
}

// castSpellPayload is the "castSpell" action's body, trimmed to a single
// damaging bolt spell — this worked example doesn't carry a full
// spellbook/slot system.
type castSpellPayload struct {
	TargetPlayerID string `json:"targetPlayerId"`
	Spell          string `json:"spell"`
	DamageDice     string `json:"damageDice"`
}

// worldFromRoot reads the dungeon World's fields back out of the Keeper's
// state.Container. Handlers receive the container rather than a *World
// directly, so every field access goes through Get/Set to pick up the
// Keeper's current MountContext (required for patch recording).
func worldFromRoot(root *state.Container) (*World, error) {
	widthAny, err := root.Get("width")
	if err != nil {
		return nil, fmt.Errorf("dungeon: state root is not a dungeon World: %w", err)
	}
	heightAny, err := root.Get("height")
	if err != nil {
		return nil, err
	}
	tilesAny, err := root.Get("tiles")
	if err != nil {
		return nil, err
	}
	playersAny, err := root.Get("players")
	if err != nil {
		return nil, err
	}
	effectsAny, err := root.Get("effects")
	if err != nil {
		return nil, err
	}

	return &World{
		Width:   widthAny.(int),
		Height:  heightAny.(int),
		Tiles:   tilesAny.(*state.ReactiveMap[Tile]),
		Players: playersAny.(*state.ReactiveMap[Character]),
		Effects: effectsAny.(*state.Set[string]),
	}, nil
}

// moveHandler moves the acting player one step, rejecting the move if the
// destination is out of bounds or not walkable.
func moveHandler(ctx *land.Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
	var p movePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "malformed move payload"}
	}
	if p.DX < -1 || p.DX > 1 || p.DY < -1 || p.DY > 1 {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "move must be a single step"}
	}

	w, err := worldFromRoot(root)
	if err != nil {
		return nil, err
	}
	ch, ok := w.Players.Get(ctx.PlayerID)
	if !ok {
		return nil, &wire.ErrorFrame{Code: wire.ErrInternal, Message: "no character for this player"}
	}
	if !ch.Alive() {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "a fallen character cannot move"}
	}

	nx, ny := ch.X+p.DX, ch.Y+p.DY
	if nx < 0 || nx >= w.Width || ny < 0 || ny >= w.Height {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "destination is out of bounds"}
	}
	tile, ok := w.tileAt(nx, ny)
	if !ok || !tile.Walkable {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "destination is not walkable"}
	}

	ch.X, ch.Y = nx, ny
	w.Players.Set(ctx.PlayerID, ch)
	ctx.SendEvent(land.Others(), "playerMoved", map[string]any{"playerId": ctx.PlayerID, "x": nx, "y": ny})
	return map[string]int{"x": nx, "y": ny}, nil
}

// attackHandler rolls a weapon-damage dice expression against the target's
// current HP, applying full weapon damage unconditionally rather than
// rolling a to-hit check against armor class.
func attackHandler(ctx *land.Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
	var p attackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "malformed attack payload"}
	}

	w, err := worldFromRoot(root)
	if err != nil {
		return nil, err
	}
	attacker, ok := w.Players.Get(ctx.PlayerID)
	if !ok || !attacker.Alive() {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "attacker has no standing character"}
	}
	target, ok := w.Players.Get(p.TargetPlayerID)
	if !ok {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "unknown target"}
	}
	if !target.Alive() {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "target has already fallen"}
	}
	if adjacency(attacker, target) > 1 {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "target is out of melee range"}
	}

	dmg, err := rollDice(ctx.Services.RNG, attacker.WeaponDice)
	if err != nil {
		return nil, &wire.ErrorFrame{Code: wire.ErrInternal, Message: err.Error()}
	}

	target.HP -= dmg
	if target.HP < 0 {
		target.HP = 0
	}
	w.Players.Set(p.TargetPlayerID, target)

	ctx.SendEvent(land.All(), "attackResolved", map[string]any{
		"attacker": ctx.PlayerID, "target": p.TargetPlayerID, "damage": dmg, "targetHp": target.HP,
	})
	return map[string]any{"damage": dmg, "targetHp": target.HP}, nil
}

// castSpellHandler rolls damageDice against the target and marks an active
// effect in the broadcast Effects set as a presence flag, rather than a
// full duration/tick-rate/stacking system.
func castSpellHandler(ctx *land.Context, root *state.Container, payload json.RawMessage, resolved map[string]any) (any, error) {
	var p castSpellPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "malformed castSpell payload"}
	}
	if p.Spell == "" || p.DamageDice == "" {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "spell and damageDice are required"}
	}

	w, err := worldFromRoot(root)
	if err != nil {
		return nil, err
	}
	caster, ok := w.Players.Get(ctx.PlayerID)
	if !ok || !caster.Alive() {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "caster has no standing character"}
	}
	target, ok := w.Players.Get(p.TargetPlayerID)
	if !ok || !target.Alive() {
		return nil, &wire.ErrorFrame{Code: wire.ErrInvalidFrame, Message: "unknown or fallen target"}
	}

	dmg, err := rollDice(ctx.Services.RNG, p.DamageDice)
	if err != nil {
		return nil, &wire.ErrorFrame{Code: wire.ErrInternal, Message: err.Error()}
	}
	target.HP -= dmg
	if target.HP < 0 {
		target.HP = 0
	}
	w.Players.Set(p.TargetPlayerID, target)
	w.Effects.Insert(p.TargetPlayerID + ":" + p.Spell)

	ctx.SendEvent(land.All(), "spellResolved", map[string]any{
		"caster": ctx.PlayerID, "target": p.TargetPlayerID, "spell": p.Spell, "damage": dmg, "targetHp": target.HP,
	})
	return map[string]any{"damage": dmg, "targetHp": target.HP}, nil
}

// adjacency reports the Chebyshev distance between two characters, for a
// grid-based melee range check.
func adjacency(a, b Character) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
