package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/factorio-stats/backend/internal/cacher"
	"github.com/factorio-stats/backend/internal/state"
)

func buildLock() *state.Lock {
	s := state.NewState()
	g1 := state.Game{
		GameID:      1,
		ServerID:    1,
		NextGameID:  2,
		TimeBegin:   100,
		TimeEnd:     200,
		HostID:      state.HostID{1},
		Name:        s.GameNames.Add("alpha"),
		Description: s.GameDescriptions.Add("desc"),
		GameVersion: s.Versions.Add("1.1.110"),
		Tags:        s.Tags.Add("pvp\x02eu"),
		HostAddress: s.HostAddresses.Add("192.0.2.1:34197"),
		Mods:        []state.Mod{},
		PlayersIntervals: []state.PlayerInterval{
			{Player: s.PlayerNames.Add("alice"), Begin: 110, End: 190},
		},
	}
	g2 := state.Game{
		GameID:      2,
		ServerID:    1,
		PrevGameID:  1,
		TimeBegin:   205,
		HostID:      state.HostID{1},
		Name:        s.GameNames.Add("alpha"),
		Description: s.GameDescriptions.Add("desc"),
		GameVersion: s.Versions.Add("1.1.110"),
		Tags:        s.Tags.Add(""),
		HostAddress: s.HostAddresses.Add("192.0.2.1:34197"),
		Mods:        []state.Mod{},
		PlayersIntervals: []state.PlayerInterval{
			{Player: s.PlayerNames.Add("bob"), Begin: 210},
		},
	}
	s.Games.Insert(g1)
	s.Games.Insert(g2)
	s.ServerChainHeads = append(s.ServerChainHeads, 2)
	s.CurrentGameIDs = []state.GameID{2}
	return &state.Lock{S: s}
}

func newTestServer(loaded bool) *httptest.Server {
	lock := buildLock()
	cache := cacher.NewCache()
	cache.Refresh(lock)
	srv := New(lock, cache)
	if loaded {
		srv.SetLoaded()
	}
	return httptest.NewServer(srv.Handler())
}

func TestIndexBeforeStateLoaded(t *testing.T) {
	ts := newTestServer(false)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 before state loads", resp.StatusCode)
	}
}

func TestIndexAfterStateLoaded(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServerInfoWindow(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/server/1?time_begin=100&time_end=300")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var view struct {
		Games []struct {
			GameID           uint32 `json:"game_id"`
			Name             string `json:"name"`
			Tags             []string
			PlayersIntervals []struct {
				Player string  `json:"player"`
				Begin  uint32  `json:"begin"`
				End    *uint32 `json:"end"`
			} `json:"players_intervals"`
		} `json:"games"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if len(view.Games) != 2 {
		t.Fatalf("games = %d, want both sessions in window", len(view.Games))
	}
	first := view.Games[0]
	if first.GameID != 1 || first.Name != "alpha" {
		t.Errorf("first game = %+v", first)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "pvp" {
		t.Errorf("tags = %v, want split on the separator", first.Tags)
	}
	second := view.Games[1]
	if len(second.PlayersIntervals) != 1 || second.PlayersIntervals[0].End != nil {
		t.Errorf("online interval = %+v, want null end", second.PlayersIntervals)
	}
}

func TestServerInfoClipsIntervals(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/server/1?time_begin=120&time_end=150")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var view struct {
		Games []struct {
			PlayersIntervals []struct {
				Begin uint32  `json:"begin"`
				End   *uint32 `json:"end"`
			} `json:"players_intervals"`
		} `json:"games"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if len(view.Games) != 1 {
		t.Fatalf("games in [120,150) = %d, want 1", len(view.Games))
	}
	pi := view.Games[0].PlayersIntervals[0]
	if pi.Begin != 120 || pi.End == nil || *pi.End != 150 {
		t.Errorf("clipped interval = %+v, want [120, 150)", pi)
	}
}

func TestServerInfoUnknownID(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	for _, path := range []string{"/server/99", "/server/0", "/server/abc"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestMainPage(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/main-page")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"top_games_by_number_players_now", "top_games_by_number_players_max"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("main page missing %q", key)
		}
	}
}

func TestSearchRoute(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/search-servers?query=ALPH")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var hits []struct {
		ServerID uint32 `json:"server_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Name != "alpha" {
		t.Errorf("hits = %+v, want the alpha server", hits)
	}
}

func TestCORSHeaders(t *testing.T) {
	ts := newTestServer(true)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/main-page", nil)
	req.Header.Set("Origin", "https://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
