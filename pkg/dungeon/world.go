package dungeon

import "landkeeper/pkg/state"

// TileType is a map cell's base kind.
type TileType int

const (
	TileFloor TileType = iota
	TileWall
	TileDoor
)

func (t TileType) String() string {
	switch t {
	case TileFloor:
		return "floor"
	case TileWall:
		return "wall"
	case TileDoor:
		return "door"
	default:
		return "unknown"
	}
}

// Tile is one map cell.
type Tile struct {
	Type     TileType `state:"type"`
	Walkable bool     `state:"walkable"`
}

// Item is carried equipment.
type Item struct {
	ID     string `state:"id"`
	Name   string `state:"name"`
	Damage string `state:"damage,omitempty"` // dice expression, e.g. "1d6+1"
	AC     int    `state:"ac,omitempty"`
}

// Character is one joined player's sheet: HP, position, and inventory are
// what the move/attack/castSpell handlers mutate; a full class/level/
// spellbook system is out of scope for this worked example.
type Character struct {
	PlayerID   string `state:"playerId"`
	Name       string `state:"name"`
	HP         int    `state:"hp"`
	MaxHP      int    `state:"maxHp"`
	AC         int    `state:"ac"`
	X          int    `state:"x"`
	Y          int    `state:"y"`
	WeaponDice string `state:"weaponDice"` // e.g. "1d6"
	Inventory  []Item `state:"inventory"`
}

// Alive reports whether the character can still act.
func (c *Character) Alive() bool { return c.HP > 0 }

// World is the dungeon Land type's whole state tree: Tiles broadcasts the
// map to every joined player; Players is
// perPlayer-scoped, so each client only receives its own Character sheet
// over the wire (the server still has full authoritative access to every
// entry for combat resolution); Effects is a broadcast set of active status
// effect keys, each "<playerID>:<effectType>".
type World struct {
	Width   int                          `state:"width"`
	Height  int                          `state:"height"`
	Tiles   *state.ReactiveMap[Tile]     `state:"tiles"`
	Players *state.ReactiveMap[Character] `state:"players"`
	Effects *state.Set[string]           `state:"effects"`
}

// tileKey formats (x, y) the way Tiles keys its entries.
func tileKey(x, y int) string {
	return itoa(x) + "," + itoa(y)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (w *World) tileAt(x, y int) (Tile, bool) {
	return w.Tiles.Get(tileKey(x, y))
}
