package dungeon

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"landkeeper/pkg/state"
)

// defaultWidth/defaultHeight size the worked example's single room grid.
const (
	defaultWidth  = 20
	defaultHeight = 12
	minRooms      = 3
	maxRooms      = 6
)

// seedFromLandID derives a deterministic int64 seed from a LandID by
// hashing it and taking the first 8 bytes. Two Keepers built for the same
// LandID — e.g. before and after a process restart — regenerate
// byte-identical starting maps, which replay determinism requires.
func seedFromLandID(landID string) int64 {
	sum := sha256.Sum256([]byte(landID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

type room struct {
	x, y, w, h int
}

func (r room) center() (int, int) {
	return r.x + r.w/2, r.y + r.h/2
}

func (r room) overlaps(o room) bool {
	return r.x < o.x+o.w+1 && r.x+r.w+1 > o.x && r.y < o.y+o.h+1 && r.y+r.h+1 > o.y
}

// generateRooms carves minRooms..maxRooms non-overlapping rectangular rooms
// from a seeded *rand.Rand and connects consecutive centers with straight
// corridors, simplified to a single level.
func generateRooms(rng *rand.Rand, width, height int) []room {
	count := minRooms + rng.Intn(maxRooms-minRooms+1)
	var rooms []room

	for attempts := 0; len(rooms) < count && attempts < count*20; attempts++ {
		w := 3 + rng.Intn(4)
		h := 3 + rng.Intn(4)
		if w >= width-2 || h >= height-2 {
			continue
		}
		x := 1 + rng.Intn(width-w-2)
		y := 1 + rng.Intn(height-h-2)
		cand := room{x: x, y: y, w: w, h: h}

		conflict := false
		for _, r := range rooms {
			if cand.overlaps(r) {
				conflict = true
				break
			}
		}
		if !conflict {
			rooms = append(rooms, cand)
		}
	}
	return rooms
}

// NewWorld builds the dungeon Land type's initial state for landID,
// deterministically seeded so the same landID always regenerates the same
// map.
func NewWorld(landID string) (*World, error) {
	rng := rand.New(rand.NewSource(seedFromLandID(landID)))

	w := &World{
		Width:   defaultWidth,
		Height:  defaultHeight,
		Tiles:   state.NewBroadcastMap[Tile](),
		Players: state.NewMap[Character](state.PerPlayer),
		Effects: state.NewSet[string](state.Broadcast),
	}

	for y := 0; y < defaultHeight; y++ {
		for x := 0; x < defaultWidth; x++ {
			w.Tiles.Set(tileKey(x, y), Tile{Type: TileWall, Walkable: false})
		}
	}

	rooms := generateRooms(rng, defaultWidth, defaultHeight)
	for _, r := range rooms {
		for y := r.y; y < r.y+r.h; y++ {
			for x := r.x; x < r.x+r.w; x++ {
				w.Tiles.Set(tileKey(x, y), Tile{Type: TileFloor, Walkable: true})
			}
		}
	}
	for i := 1; i < len(rooms); i++ {
		x1, y1 := rooms[i-1].center()
		x2, y2 := rooms[i].center()
		carveCorridor(w, x1, y1, x2, y2)
	}

	return w, nil
}

// carveCorridor punches an L-shaped walkable path between two points.
func carveCorridor(w *World, x1, y1, x2, y2 int) {
	x, y := x1, y1
	for x != x2 {
		w.Tiles.Set(tileKey(x, y), Tile{Type: TileFloor, Walkable: true})
		if x < x2 {
			x++
		} else {
			x--
		}
	}
	for y != y2 {
		w.Tiles.Set(tileKey(x, y), Tile{Type: TileFloor, Walkable: true})
		if y < y2 {
			y++
		} else {
			y--
		}
	}
	w.Tiles.Set(tileKey(x2, y2), Tile{Type: TileFloor, Walkable: true})
}

// spawnPoint returns a walkable tile to place a newly-joined player at: the
// first walkable tile in row-major order, else the grid's center if no tile
// is walkable.
func (w *World) spawnPoint() (int, int) {
	for y := 0; y < w.Height; y++ {
		for x := 0; x < w.Width; x++ {
			if t, ok := w.tileAt(x, y); ok && t.Walkable {
				return x, y
			}
		}
	}
	return w.Width / 2, w.Height / 2
}
