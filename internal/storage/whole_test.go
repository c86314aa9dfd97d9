package storage

import (
	"bytes"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/factorio-stats/backend/internal/state"
	"github.com/factorio-stats/backend/internal/updater"
)

// buildWholeState returns a consistent WholeState exercising every
// serialized field: a two-session chain, a live unchained session, a
// pending merge entry, and a pending detail fetch.
func buildWholeState() *WholeState {
	ws := EmptyWholeState()
	s := ws.State

	host := state.HostID{1, 2, 3}
	g1 := state.Game{
		GameID:      1,
		ServerID:    1,
		NextGameID:  2,
		TimeBegin:   100,
		TimeEnd:     200,
		HostID:      host,
		Name:        s.GameNames.Add("megabase"),
		Description: s.GameDescriptions.Add("rockets hourly"),
		MaxPlayers:  20,
		GameVersion: s.Versions.Add("1.1.110"),
		HasPassword: true,
		Tags:        s.Tags.Add("speedrun\x02eu"),
		ModCount:    2,
		HostAddress: s.HostAddresses.Add("203.0.113.9:34197"),
		Mods: []state.Mod{
			{Name: s.ModNames.Add("rso"), Version: s.Versions.Add("6.2.20")},
		},
		PlayersIntervals: []state.PlayerInterval{
			{Player: s.PlayerNames.Add("alice"), Begin: 101, End: 150},
		},
	}
	g2 := state.Game{
		GameID:      2,
		ServerID:    1,
		PrevGameID:  1,
		TimeBegin:   205,
		TimeEnd:     400,
		HostID:      host,
		Name:        s.GameNames.Add("megabase"),
		Description: s.GameDescriptions.Add("rockets hourly"),
		GameVersion: s.Versions.Add("1.1.110"),
		Tags:        s.Tags.Add(""),
		HostAddress: s.HostAddresses.Add("203.0.113.9:34197"),
		Mods:        []state.Mod{},
	}
	g9 := state.Game{
		GameID:      9,
		TimeBegin:   500,
		HostID:      state.HostID{9},
		Name:        s.GameNames.Add("fresh server"),
		Description: s.GameDescriptions.Add(""),
		GameVersion: s.Versions.Add("1.1.110"),
		Tags:        s.Tags.Add(""),
		PlayersIntervals: []state.PlayerInterval{
			{Player: s.PlayerNames.Add("bob"), Begin: 500},
		},
	}
	s.Games.Insert(g1)
	s.Games.Insert(g2)
	s.Games.Insert(g9)
	s.ServerChainHeads = append(s.ServerChainHeads, 2)
	s.CurrentGameIDs = []state.GameID{9}

	ws.Updater.ScheduledToMergeHostIDs[state.HostID{9}] = &updater.MergeInfo{
		FirstChangeTime: 500,
		LastChangeTime:  501,
		BaselineGameIDs: []state.GameID{2},
	}
	ws.Details.GameIDs = []state.GameID{9}
	return ws
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, ext := range []string{".lz4", ".xz"} {
		t.Run(ext, func(t *testing.T) {
			ws := buildWholeState()
			filename := filepath.Join(t.TempDir(), "state.bin"+ext)

			if err := SaveToFile(ws, filename); err != nil {
				t.Fatalf("SaveToFile: %v", err)
			}
			loaded, err := LoadFromFile(filename)
			if err != nil {
				t.Fatalf("LoadFromFile: %v", err)
			}

			if !reflect.DeepEqual(ws.Updater, loaded.Updater) {
				t.Error("updater state differs after round trip")
			}
			if !reflect.DeepEqual(ws.Details, loaded.Details) {
				t.Error("detail fetcher state differs after round trip")
			}
			if !statesEqual(ws.State, loaded.State) {
				t.Error("state differs after round trip")
			}
		})
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.bin.lz4")
	b := filepath.Join(dir, "b.bin.lz4")
	if err := SaveToFile(buildWholeState(), a); err != nil {
		t.Fatal(err)
	}
	if err := SaveToFile(buildWholeState(), b); err != nil {
		t.Fatal(err)
	}

	wsA, err := LoadFromFile(a)
	if err != nil {
		t.Fatal(err)
	}
	wsB, err := LoadFromFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if !statesEqual(wsA.State, wsB.State) || !reflect.DeepEqual(wsA.Updater, wsB.Updater) {
		t.Error("two saves of the same state decoded differently")
	}
}

func TestLoadRejectsInvalidState(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "state.bin.lz4")
	ws := buildWholeState()
	// break invariant I5: chained session without details
	ws.State.GetGame(2).HostAddress = 0
	if err := SaveToFile(ws, filename); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(filename); err == nil {
		t.Error("LoadFromFile accepted a checkpoint violating the invariants")
	}
}

// statesEqual compares states through their serialized form, which
// ignores display-only fields like arena debug names.
func statesEqual(a, b *state.State) bool {
	return string(encodeState(a)) == string(encodeState(b))
}

func encodeState(s *state.State) []byte {
	var buf bytes.Buffer
	e := state.NewEncoder(&buf)
	s.Encode(e)
	e.Flush()
	return buf.Bytes()
}
