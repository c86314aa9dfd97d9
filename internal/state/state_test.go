package state

import (
	"bytes"
	"reflect"
	"testing"
)

// buildChainState returns a state with one logical server made of two
// sessions (1 → 2) and one unchained session 7.
func buildChainState() *State {
	s := NewState()

	host := HostID{1}
	g1 := Game{
		GameID:      1,
		ServerID:    1,
		NextGameID:  2,
		TimeBegin:   1,
		TimeEnd:     11,
		HostID:      host,
		Name:        s.GameNames.Add("alpha"),
		Description: s.GameDescriptions.Add("first"),
		GameVersion: s.Versions.Add("1.1.0"),
		Tags:        s.Tags.Add("pvp\x02eu"),
		HostAddress: s.HostAddresses.Add("10.0.0.1:34197"),
		Mods:        []Mod{{Name: s.ModNames.Add("krastorio"), Version: s.Versions.Add("1.1.0")}},
		PlayersIntervals: []PlayerInterval{
			{Player: s.PlayerNames.Add("alice"), Begin: 2, End: 9},
		},
	}
	g2 := Game{
		GameID:      2,
		ServerID:    1,
		PrevGameID:  1,
		TimeBegin:   12,
		TimeEnd:     30,
		HostID:      host,
		Name:        s.GameNames.Add("alpha"),
		Description: s.GameDescriptions.Add("first"),
		GameVersion: s.Versions.Add("1.1.0"),
		Tags:        s.Tags.Add("pvp\x02eu"),
		HostAddress: s.HostAddresses.Add("10.0.0.1:34197"),
		Mods:        []Mod{{Name: s.ModNames.Add("krastorio"), Version: s.Versions.Add("1.1.0")}},
		PlayersIntervals: []PlayerInterval{
			{Player: s.PlayerNames.Add("alice"), Begin: 12, End: 20},
			{Player: s.PlayerNames.Add("bob"), Begin: 14, End: 25},
		},
	}
	g7 := Game{
		GameID:      7,
		TimeBegin:   40,
		HostID:      HostID{2},
		Name:        s.GameNames.Add("beta"),
		Description: s.GameDescriptions.Add("second"),
		GameVersion: s.Versions.Add("1.1.0"),
		Tags:        s.Tags.Add(""),
		PlayersIntervals: []PlayerInterval{
			{Player: s.PlayerNames.Add("carol"), Begin: 41},
		},
	}
	s.Games.Insert(g1)
	s.Games.Insert(g2)
	s.Games.Insert(g7)
	s.ServerChainHeads = append(s.ServerChainHeads, 2)
	s.CurrentGameIDs = []GameID{7}
	return s
}

func TestValidateAcceptsConsistentState(t *testing.T) {
	s := buildChainState()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsBrokenStates(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(*State)
	}{
		{"finished but current", func(s *State) { s.CurrentGameIDs = []GameID{1} }},
		{"running but absent", func(s *State) { s.GetGame(7).TimeEnd = 0; s.CurrentGameIDs = nil }},
		{"chained without details", func(s *State) { s.GetGame(2).HostAddress = 0 }},
		{"asymmetric link", func(s *State) { s.GetGame(1).NextGameID = 0 }},
		{"interval order broken", func(s *State) {
			g := s.GetGame(7)
			g.PlayersIntervals = append(g.PlayersIntervals, PlayerInterval{Player: 1, Begin: 41, End: 42})
		}},
		{"huge chain overlap", func(s *State) { s.GetGame(1).TimeEnd = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := buildChainState()
			tt.corrupt(s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() accepted a broken state")
			}
		})
	}
}

func TestFixCyclicPrevGameID(t *testing.T) {
	s := buildChainState()
	// close a 1 ↔ 2 loop
	s.GetGame(1).PrevGameID = 2
	s.FixCyclicPrevGameID()

	if got := s.GetGame(1).PrevGameID; got != 0 {
		t.Errorf("cycle not broken: game 1 prev = %d", got)
	}
}

func TestServerGamesInWindow(t *testing.T) {
	s := buildChainState()
	tests := []struct {
		name               string
		timeBegin, timeEnd TimeMinutes
		want               []GameID
	}{
		{"whole history", 1, 100, []GameID{1, 2}},
		{"only first", 1, 11, []GameID{1}},
		{"only second", 11, 100, []GameID{2}},
		{"between sessions", 11, 12, nil},
		{"before everything", 100, 200, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ServerGamesInWindow(1, tt.timeBegin, tt.timeEnd)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ServerGamesInWindow(%d, %d) = %v, want %v", tt.timeBegin, tt.timeEnd, got, tt.want)
			}
		})
	}
}

func TestGetModsInheritsFromPrev(t *testing.T) {
	s := buildChainState()
	s.Compress() // clears game 2's identical mod list

	g2 := s.GetGame(2)
	if g2.Mods != nil {
		t.Fatal("compress did not clear the duplicate mod list")
	}
	mods := s.GetMods(g2)
	if len(mods) != 1 || s.ModNames.GetString(mods[0].Name) != "krastorio" {
		t.Errorf("GetMods after compress = %v", mods)
	}

	// a session without details resolves to no mods
	if got := s.GetMods(s.GetGame(7)); got != nil {
		t.Errorf("GetMods on detail-less session = %v, want nil", got)
	}
}

func TestCompressPreservesResolvedStrings(t *testing.T) {
	s := buildChainState()

	type resolved struct {
		name, version, host, player string
	}
	snapshot := func() map[GameID]resolved {
		out := make(map[GameID]resolved)
		for _, id := range []GameID{1, 2, 7} {
			g := s.GetGame(id)
			r := resolved{
				name:    s.GameNames.GetString(g.Name),
				version: s.Versions.GetString(g.GameVersion),
			}
			if g.HostAddress != 0 {
				r.host = s.HostAddresses.GetString(g.HostAddress)
			}
			r.player = s.PlayerNames.GetString(g.PlayersIntervals[0].Player)
			out[id] = r
		}
		return out
	}

	before := snapshot()
	s.Compress()
	after := snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("resolved strings changed across compress:\nbefore %v\nafter  %v", before, after)
	}

	sizeAfterFirst := s.GameNames.Len() + s.PlayerNames.Len() + s.Versions.Len()
	s.Compress()
	if got := s.GameNames.Len() + s.PlayerNames.Len() + s.Versions.Len(); got != sizeAfterFirst {
		t.Errorf("second compress shrank arenas further: %d → %d", sizeAfterFirst, got)
	}
}

func TestStateCodecRoundTrip(t *testing.T) {
	s := buildChainState()

	var buf bytes.Buffer
	e := NewEncoder(&buf)
	s.Encode(e)
	if err := e.Flush(); err != nil {
		t.Fatalf("encoding: %v", err)
	}

	decoded, err := DecodeState(NewDecoder(&buf))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !reflect.DeepEqual(stripDebugNames(s), stripDebugNames(decoded)) {
		t.Error("decoded state differs from original")
	}
}

// stripDebugNames zeroes the arena debug names, which are display-only
// and not part of the serialized form.
func stripDebugNames(s *State) *State {
	for _, arena := range s.arenas() {
		arena.debugName = ""
	}
	return s
}
