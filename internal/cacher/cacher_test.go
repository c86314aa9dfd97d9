package cacher

import (
	"fmt"
	"testing"

	"github.com/factorio-stats/backend/internal/state"
)

// buildState returns a state with n single-session chains named
// "server-<i>", each with i players online, all currently listed.
func buildState(n int) *state.Lock {
	s := state.NewState()
	for i := 1; i <= n; i++ {
		id := state.GameID(i)
		g := state.Game{
			GameID:      id,
			ServerID:    state.ServerID(i),
			TimeBegin:   1,
			HostID:      state.HostID{byte(i)},
			Name:        s.GameNames.Add(fmt.Sprintf("server-%d", i)),
			Description: s.GameDescriptions.Add(""),
			GameVersion: s.Versions.Add("1.1.110"),
			Tags:        s.Tags.Add(""),
			HostAddress: s.HostAddresses.Add(fmt.Sprintf("192.0.2.%d:34197", i)),
			Mods:        []state.Mod{},
		}
		for p := 0; p < i; p++ {
			g.PlayersIntervals = append(g.PlayersIntervals, state.PlayerInterval{
				Player: s.PlayerNames.Add(fmt.Sprintf("player-%d-%d", i, p)),
				Begin:  state.TimeMinutes(2 + p),
			})
		}
		s.Games.Insert(g)
		s.ServerChainHeads = append(s.ServerChainHeads, id)
		s.CurrentGameIDs = append(s.CurrentGameIDs, id)
	}
	return &state.Lock{S: s}
}

func TestRefreshTopCurrent(t *testing.T) {
	lock := buildState(15)
	c := NewCache()
	c.Refresh(lock)

	c.mu.RLock()
	top := c.mainPage.TopGamesByNumberPlayersNow
	c.mu.RUnlock()

	if len(top) != 10 {
		t.Fatalf("top size = %d, want 10", len(top))
	}
	if top[0].Name != "server-15" || top[0].NumberPlayers != 15 {
		t.Errorf("top[0] = %+v, want server-15 with 15 players", top[0])
	}
	for i := 1; i < len(top); i++ {
		if top[i-1].NumberPlayers < top[i].NumberPlayers {
			t.Fatalf("top list not sorted at %d: %+v", i, top)
		}
	}
}

func TestRefreshSkipsUnchainedSessions(t *testing.T) {
	lock := buildState(3)
	lock.S.GetGame(2).ServerID = 0
	c := NewCache()
	c.Refresh(lock)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, row := range c.mainPage.TopGamesByNumberPlayersNow {
		if row.Name == "server-2" {
			t.Error("unchained session appeared in the top list")
		}
	}
}

func TestRefreshTopMax(t *testing.T) {
	lock := buildState(5)
	c := NewCache()
	c.Refresh(lock)

	c.mu.RLock()
	top := c.mainPage.TopGamesByNumberPlayersMax
	c.mu.RUnlock()

	if len(top) != 5 {
		t.Fatalf("top size = %d, want 5", len(top))
	}
	if top[0].Name != "server-5" || top[0].NumberPlayers != 5 {
		t.Errorf("top[0] = %+v, want server-5 peaking at 5", top[0])
	}
}

func TestMainPageJSONBeforeFirstRefresh(t *testing.T) {
	c := NewCache()
	if got := string(c.MainPageJSON()); got != "{}" {
		t.Errorf("initial payload = %q, want {}", got)
	}
}

func TestSearchServers(t *testing.T) {
	lock := buildState(12)
	// one finished server to exercise ordering
	g := lock.S.GetGame(3)
	g.TimeEnd = 50
	for i := range g.PlayersIntervals {
		g.PlayersIntervals[i].End = 50
	}
	lock.S.CurrentGameIDs = removeID(lock.S.CurrentGameIDs, 3)

	hits, err := SearchServers(lock, "SERVER-1") // matches 1, 10, 11, 12
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 4 {
		t.Fatalf("hits = %+v, want 4", hits)
	}
	for _, hit := range hits {
		if hit.TimeEnd != nil {
			t.Errorf("finished server %q in results for a query it does not match", hit.Name)
		}
	}

	all, err := SearchServers(lock, "server-")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 12 {
		t.Fatalf("hits = %d, want 12", len(all))
	}
	// the single ended server sorts last
	if all[len(all)-1].Name != "server-3" || all[len(all)-1].TimeEnd == nil {
		t.Errorf("last hit = %+v, want the ended server-3", all[len(all)-1])
	}
}

func TestSearchEscapesRegexMetacharacters(t *testing.T) {
	lock := buildState(2)
	hits, err := SearchServers(lock, "server-.")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("metacharacter matched literally-named servers: %+v", hits)
	}
}

func removeID(ids []state.GameID, id state.GameID) []state.GameID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
