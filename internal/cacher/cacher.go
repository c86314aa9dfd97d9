package cacher

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/factorio-stats/backend/internal/state"
)

// The cacher periodically recomputes the derived views the main page
// needs. Both top lists are O(state), far too slow for a per-request
// path, so they refresh on a timer and handlers serve the cached JSON.

const refreshInterval = 10 * time.Minute

const topSize = 10

// TopCurrentGame is one row of the by-players-right-now top list.
type TopCurrentGame struct {
	ServerID      state.ServerID `json:"server_id"`
	Name          string         `json:"name"`
	NumberPlayers int            `json:"number_players"`
}

// TopMaxGame is one row of the all-time peak top list. The peak is the
// maximum simultaneous player count across every session of the chain.
type TopMaxGame struct {
	ServerID      state.ServerID    `json:"server_id"`
	Name          string            `json:"name"`
	NumberPlayers int               `json:"number_players"`
	Time          state.TimeMinutes `json:"time"`
}

// MainPageInfo is the cached main-page payload.
type MainPageInfo struct {
	TopGamesByNumberPlayersNow []TopCurrentGame `json:"top_games_by_number_players_now"`
	TopGamesByNumberPlayersMax []TopMaxGame     `json:"top_games_by_number_players_max"`
}

// Cache holds the latest projection and its serialized form.
type Cache struct {
	mu         sync.RWMutex
	mainPage   MainPageInfo
	serialized []byte
}

// NewCache returns an empty cache serving "{}" until the first refresh.
func NewCache() *Cache {
	return &Cache{serialized: []byte("{}")}
}

// MainPageJSON returns the cached serialized main page.
func (c *Cache) MainPageJSON() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serialized
}

// Run refreshes the cache forever on a fixed interval. When notify is
// non-nil it receives each fresh payload (the websocket hub pushes it
// to connected clients).
func (c *Cache) Run(stateLock *state.Lock, notify func([]byte)) {
	for iteration := 0; ; iteration++ {
		log.Printf("[cacher] start iteration #%d", iteration)
		c.Refresh(stateLock)
		if notify != nil {
			notify(c.MainPageJSON())
		}
		time.Sleep(refreshInterval)
	}
}

// Refresh recomputes both top lists from a consistent read snapshot.
func (c *Cache) Refresh(stateLock *state.Lock) {
	now := state.NowMinutes()

	stateLock.RLock()
	s := stateLock.S
	topNow := topCurrentGamesByNumberPlayers(s)
	topMax := topGamesByNumberPlayersMax(s, now)
	stateLock.RUnlock()

	mainPage := MainPageInfo{
		TopGamesByNumberPlayersNow: topNow,
		TopGamesByNumberPlayersMax: topMax,
	}
	serialized, err := json.Marshal(mainPage)
	if err != nil {
		log.Printf("[cacher] [error] serializing main page: %v", err)
		return
	}

	c.mu.Lock()
	c.mainPage = mainPage
	c.serialized = serialized
	c.mu.Unlock()
}

// topCurrentGamesByNumberPlayers ranks the currently listed sessions
// by online players. Sessions not yet assigned to a chain are skipped:
// the UI links each row to a server page, which needs a ServerID.
func topCurrentGamesByNumberPlayers(s *state.State) []TopCurrentGame {
	var rows []TopCurrentGame
	for _, gameID := range s.CurrentGameIDs {
		g := s.GetGame(gameID)
		if g.ServerID == 0 {
			continue
		}
		rows = append(rows, TopCurrentGame{
			ServerID:      g.ServerID,
			Name:          s.GetGameName(gameID),
			NumberPlayers: g.NumberPlayersOnline(),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].NumberPlayers > rows[j].NumberPlayers })
	if len(rows) > topSize {
		rows = rows[:topSize]
	}
	return rows
}

// topGamesByNumberPlayersMax ranks logical servers by their all-time
// peak of simultaneous players.
func topGamesByNumberPlayersMax(s *state.State, now state.TimeMinutes) []TopMaxGame {
	var rows []TopMaxGame
	for serverID := 1; serverID < len(s.ServerChainHeads); serverID++ {
		headID := s.ServerChainHeads[serverID]

		chainMax, chainTime := 0, state.TimeMinutes(0)
		for gameID := headID; gameID != 0; {
			g := s.GetGame(gameID)
			maximum, at := g.MaximumNumberPlayers(now)
			// ties prefer the later occurrence, like the sweep itself
			if maximum > chainMax || (maximum == chainMax && at > chainTime) {
				chainMax, chainTime = maximum, at
			}
			gameID = g.PrevGameID
		}

		rows = append(rows, TopMaxGame{
			ServerID:      state.ServerID(serverID),
			Name:          s.GetGameName(headID),
			NumberPlayers: chainMax,
			Time:          chainTime,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].NumberPlayers > rows[j].NumberPlayers })
	if len(rows) > topSize {
		rows = rows[:topSize]
	}
	return rows
}
