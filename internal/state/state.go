package state

import (
	"log"
	"math"
	"sync"
)

// chainHeadSentinel fills slot 0 of ServerChainHeads so that ServerID 0
// can mean "unassigned".
const chainHeadSentinel = GameID(math.MaxUint32)

// State is the complete in-memory model: every session ever observed,
// the chain-head table for logical servers, the set of currently listed
// sessions, and the seven string arenas everything interns into.
//
// A single writer (the updater, or the detail fetcher for its two
// fields) mutates it under the write lock; HTTP handlers and the
// projection read it under the read lock.
type State struct {
	Games *GamesMap
	// ServerChainHeads[s] is the latest GameID of logical server s
	// (the one whose NextGameID is zero). Slot 0 is a sentinel.
	ServerChainHeads []GameID
	// CurrentGameIDs is the set of game ids present in the most recent
	// snapshot.
	CurrentGameIDs []GameID

	GameNames        *BigString
	GameDescriptions *BigString
	Versions         *BigString
	Tags             *BigString
	HostAddresses    *BigString
	ModNames         *BigString
	PlayerNames      *BigString
}

// NewState returns an empty state with initialized arenas and the
// chain-head sentinel in place.
func NewState() *State {
	return &State{
		Games:            NewGamesMap(),
		ServerChainHeads: []GameID{chainHeadSentinel},
		GameNames:        NewBigString(),
		GameDescriptions: NewBigString(),
		Versions:         NewBigString(),
		Tags:             NewBigString(),
		HostAddresses:    NewBigString(),
		ModNames:         NewBigString(),
		PlayerNames:      NewBigString(),
	}
}

// Lock pairs a State with its RWMutex. When several regions are held at
// once the acquire order is UpdaterState → State → DetailState.
type Lock struct {
	sync.RWMutex
	S *State
}

// GetGame returns the session for id and panics if it is unknown —
// every id reaching this point came out of the state itself.
func (s *State) GetGame(id GameID) *Game {
	g := s.Games.Get(id)
	if g == nil {
		panic("state: unknown game id")
	}
	return g
}

// GetGameName resolves the interned name of a session.
func (s *State) GetGameName(id GameID) string {
	return s.GameNames.GetString(s.GetGame(id).Name)
}

// GetGameHost resolves the interned host address of a session, or ""
// when details are not fetched yet.
func (s *State) GetGameHost(id GameID) string {
	g := s.GetGame(id)
	if g.HostAddress == 0 {
		return ""
	}
	return s.HostAddresses.GetString(g.HostAddress)
}

// AsServerID converts a raw index into a ServerID, returning 0 when it
// is out of range or the reserved slot.
func (s *State) AsServerID(id uint64) ServerID {
	if 1 <= id && id < uint64(len(s.ServerChainHeads)) {
		return ServerID(id)
	}
	return 0
}

// ServerLastGameID returns the tail (latest) session of a chain.
func (s *State) ServerLastGameID(id ServerID) GameID {
	return s.ServerChainHeads[id]
}

// ServerFirstGameID walks PrevGameID links from the chain head to the
// root.
func (s *State) ServerFirstGameID(id ServerID) GameID {
	gameID := s.ServerLastGameID(id)
	for {
		prev := s.GetGame(gameID).PrevGameID
		if prev == 0 {
			return gameID
		}
		gameID = prev
	}
}

// ServerGamesInWindow collects the sessions of a chain whose lifetime
// intersects [timeBegin, timeEnd), earliest first.
func (s *State) ServerGamesInWindow(serverID ServerID, timeBegin, timeEnd TimeMinutes) []GameID {
	if timeBegin >= timeEnd {
		panic("state: empty query window")
	}
	last := s.GetGame(s.ServerLastGameID(serverID))
	for last.TimeBegin >= timeEnd {
		if last.PrevGameID == 0 {
			return nil
		}
		last = s.GetGame(last.PrevGameID)
	}
	if last.TimeEnd != 0 && last.TimeEnd <= timeBegin {
		return nil
	}

	gameIDs := []GameID{last.GameID}
	for {
		prev := s.GetGame(gameIDs[len(gameIDs)-1]).PrevGameID
		if prev == 0 || s.GetGame(prev).TimeEnd <= timeBegin {
			break
		}
		gameIDs = append(gameIDs, prev)
	}
	for i, j := 0, len(gameIDs)-1; i < j; i, j = i+1, j-1 {
		gameIDs[i], gameIDs[j] = gameIDs[j], gameIDs[i]
	}
	return gameIDs
}

// GetMods resolves the effective mod list of a session. A nil list on a
// chained session means "same as the previous session"; the walk stops
// at the first stored list (the 404 sentinel list included) or at the
// chain root.
func (s *State) GetMods(g *Game) []Mod {
	for {
		if !g.AreDetailsFetched() {
			return nil
		}
		if g.Mods != nil {
			return g.Mods
		}
		if g.PrevGameID == 0 {
			return nil
		}
		g = s.GetGame(g.PrevGameID)
	}
}

// arenas returns every arena with its debug name set, for compaction
// and serialization to treat them uniformly.
func (s *State) arenas() []*BigString {
	named := []struct {
		name  string
		arena *BigString
	}{
		{"game_names", s.GameNames},
		{"game_descriptions", s.GameDescriptions},
		{"versions", s.Versions},
		{"tags", s.Tags},
		{"host_addresses", s.HostAddresses},
		{"mod_names", s.ModNames},
		{"player_names", s.PlayerNames},
	}
	out := make([]*BigString, len(named))
	for i, n := range named {
		n.arena.SetDebugName(n.name)
		out[i] = n.arena
	}
	return out
}

// Compress deduplicates every arena, remaps all interned references,
// and clears mod lists that merely repeat the previous session's.
func (s *State) Compress() {
	s.compressBigStrings()
	s.compressMods()
}

func (s *State) compressBigStrings() {
	s.arenas() // assign debug names for the log lines below

	mapNames := s.GameNames.Compress()
	mapDescriptions := s.GameDescriptions.Compress()
	mapVersions := s.Versions.Compress()
	mapTags := s.Tags.Compress()
	mapHostAddresses := s.HostAddresses.Compress()
	mapModNames := s.ModNames.Compress()
	mapPlayerNames := s.PlayerNames.Compress()

	games := s.Games.All()
	for i := range games {
		g := &games[i]
		g.Name = mapNames[g.Name]
		g.Description = mapDescriptions[g.Description]
		g.GameVersion = mapVersions[g.GameVersion]
		g.Tags = mapTags[g.Tags]
		if g.HostAddress != 0 {
			g.HostAddress = mapHostAddresses[g.HostAddress]
		}
		for j := range g.Mods {
			g.Mods[j].Name = mapModNames[g.Mods[j].Name]
			g.Mods[j].Version = mapVersions[g.Mods[j].Version]
		}
		for j := range g.PlayersIntervals {
			g.PlayersIntervals[j].Player = mapPlayerNames[g.PlayersIntervals[j].Player]
		}
	}
}

// compressMods finds sessions whose stored mod list equals the next
// stored list up the chain and clears them; GetMods reconstructs the
// value by walking PrevGameID.
func (s *State) compressMods() {
	var sameAsPrev []GameID
	games := s.Games.All()
	for i := range games {
		prevGame := &games[i]
		if len(prevGame.Mods) == 0 {
			// nil means already inherited; empty would make every
			// successor's nil ambiguous with "not fetched"
			continue
		}

		nextID := prevGame.NextGameID
		for nextID != 0 {
			g := s.GetGame(nextID)
			nextID = g.NextGameID
			if g.Mods == nil {
				continue
			}
			if modsEqual(g.Mods, prevGame.Mods) {
				sameAsPrev = append(sameAsPrev, g.GameID)
			}
			break
		}
	}

	log.Printf("[state] cleared mods in %d games", len(sameAsPrev))
	for _, id := range sameAsPrev {
		s.GetGame(id).Mods = nil
	}
}

func modsEqual(a, b []Mod) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
