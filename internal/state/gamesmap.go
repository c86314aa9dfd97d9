package state

import (
	"log"
	"sort"
)

// GamesMap maps GameID → Game. Game ids are assigned monotonically by
// the directory, so insertion order is almost always sorted; storing the
// games in a GameID-ordered slice gives O(log n) lookup, cache-friendly
// iteration, and none of the per-entry overhead of a hash map (the key
// is 4 bytes, the value ~130).
type GamesMap struct {
	// ordered by GameID
	values []Game
}

// maximumNewGamesPerDay oversizes the initial allocation so that the big
// load-time allocation is the only one; as of observation the directory
// mints well under 10000 new ids per day.
const maximumNewGamesPerDay = 10000 * 4

// NewGamesMap returns an empty map.
func NewGamesMap() *GamesMap { return &GamesMap{} }

// NewGamesMapWithCapacity returns an empty map sized for capacity
// existing games plus headroom for a day of new ones.
func NewGamesMapWithCapacity(capacity int) *GamesMap {
	return &GamesMap{values: make([]Game, 0, capacity+maximumNewGamesPerDay)}
}

// Len returns the number of games.
func (m *GamesMap) Len() int { return len(m.values) }

func (m *GamesMap) search(id GameID) (int, bool) {
	i := sort.Search(len(m.values), func(i int) bool { return m.values[i].GameID >= id })
	return i, i < len(m.values) && m.values[i].GameID == id
}

// Get returns the game with the given id, or nil.
func (m *GamesMap) Get(id GameID) *Game {
	if i, ok := m.search(id); ok {
		return &m.values[i]
	}
	return nil
}

// Contains reports whether id is present.
func (m *GamesMap) Contains(id GameID) bool {
	_, ok := m.search(id)
	return ok
}

// Insert adds a game. Ids normally arrive in increasing order; an
// out-of-order id means the directory re-listed a game that had already
// disappeared, which is logged and handled with a mid-slice splice.
func (m *GamesMap) Insert(g Game) {
	if len(m.values) == cap(m.values) && cap(m.values) > 0 {
		log.Printf("[games_map] [error] reallocation during insert: len and capacity is %d", len(m.values))
	}

	if n := len(m.values); n == 0 || m.values[n-1].GameID < g.GameID {
		m.values = append(m.values, g)
		return
	}

	last := m.values[len(m.values)-1].GameID
	log.Printf("[games_map] [warn] adding game with inconsistent id %d (last id %d)", g.GameID, last)
	i, ok := m.search(g.GameID)
	if ok {
		panic("GamesMap already contains game with this id")
	}
	m.values = append(m.values, Game{})
	copy(m.values[i+1:], m.values[i:])
	m.values[i] = g
}

// All returns the underlying ordered slice. Callers may mutate games in
// place but must not grow or reorder the slice.
func (m *GamesMap) All() []Game { return m.values }
