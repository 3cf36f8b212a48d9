package dungeon

import (
	"landkeeper/pkg/land"
	"landkeeper/pkg/state"
)

// startingHP/startingAC/startingWeapon seed a newly-joined character with
// the minimal fields this worked example exercises.
const (
	startingHP     = 12
	startingMaxHP  = 12
	startingAC     = 10
	startingWeapon = "1d6"
)

// NewDefinition builds the dungeon Land type's land.Definition, seeding its
// initial map from landID so that two Keepers built for the same landID —
// including a replay re-evaluation — regenerate byte-identical starting
// state. It is a realm.Factory / replay.DefinitionFactory value.
func NewDefinition(landID string) (land.Definition, error) {
	return land.Definition{
		LandType: "dungeon",
		NewState: func() (any, error) { return NewWorld(landID) },
		Handlers: map[string]land.Handler{
			"move":      {Run: moveHandler},
			"attack":    {Run: attackHandler},
			"castSpell": {Run: castSpellHandler},
		},
		OnJoin:  onJoin,
		OnLeave: onLeave,
	}, nil
}

// onJoin drops a fresh Character at the map's first walkable tile.
func onJoin(ctx *land.Context, root *state.Container) error {
	w, err := worldFromRoot(root)
	if err != nil {
		return err
	}
	x, y := w.spawnPoint()
	w.Players.Set(ctx.PlayerID, Character{
		PlayerID:   ctx.PlayerID,
		Name:       ctx.PlayerID,
		HP:         startingHP,
		MaxHP:      startingMaxHP,
		AC:         startingAC,
		X:          x,
		Y:          y,
		WeaponDice: startingWeapon,
	})
	return nil
}

// onLeave removes the departing player's Character from the map.
func onLeave(ctx *land.Context, root *state.Container) error {
	w, err := worldFromRoot(root)
	if err != nil {
		return err
	}
	w.Players.Delete(ctx.PlayerID)
	return nil
}
