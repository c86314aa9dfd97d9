package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFlexFieldsAcceptBothEncodings(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"native types", `{"max_players": 32, "has_password": true, "game_time_elapsed": 9}`},
		{"stringified", `{"max_players": "32", "has_password": "true", "game_time_elapsed": "9"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Game
			if err := json.Unmarshal([]byte(tt.json), &g); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if g.MaxPlayers != 32 || !bool(g.HasPassword) || g.GameTimeElapsed != 9 {
				t.Errorf("decoded %+v", g)
			}
		})
	}
}

func TestCleanGetGamesResponse(t *testing.T) {
	hostID := "aGVsbG8="
	games := GetGamesResponse{
		{GameID: 1, HostID: &hostID, ApplicationVersion: ApplicationVersion{GameVersion: "1.1.110"},
			Players: []string{"alice", "", "bob"}},
		{GameID: 2, ApplicationVersion: ApplicationVersion{GameVersion: "1.1.110"}}, // no host id
		{GameID: 3, HostID: &hostID, ApplicationVersion: ApplicationVersion{GameVersion: "0.0.0"}},
	}

	cleaned := CleanGetGamesResponse(games)
	if len(cleaned) != 1 || cleaned[0].GameID != 1 {
		t.Fatalf("cleaned = %+v, want only game 1", cleaned)
	}
	if len(cleaned[0].Players) != 2 {
		t.Errorf("players = %v, want empty names stripped", cleaned[0].Players)
	}
}

func newTestClient(ts *httptest.Server) *Client {
	return &Client{
		baseURL:  ts.URL,
		username: "user",
		token:    "secret",
		http:     &http.Client{Timeout: time.Second},
	}
}

func TestGetGames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-games" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("username") != "user" || r.URL.Query().Get("token") != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `[{"game_id": 5, "name": "n", "description": "", "max_players": "10",
			"application_version": {"game_version": "1.1.110", "build_version": "1", "build_mode": "headless", "platform": "linux64"},
			"game_time_elapsed": "0", "has_password": "false", "server_id": "aGVsbG8="}]`)
	}))
	defer ts.Close()

	games, err := newTestClient(ts).GetGames()
	if err != nil {
		t.Fatalf("GetGames: %v", err)
	}
	if len(games) != 1 || games[0].GameID != 5 {
		t.Errorf("games = %+v", games)
	}
}

func TestGetGameDetails404IsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	details, err := newTestClient(ts).GetGameDetails(5)
	if err != nil {
		t.Fatalf("GetGameDetails on 404 = %v, want nil error", err)
	}
	if details != nil {
		t.Errorf("details = %+v, want nil", details)
	}
}

func TestGetGameDetailsDropsBaseMod(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"game_id": 5, "name": "n", "description": "", "max_players": 10,
			"application_version": {"game_version": "1.1.110", "build_version": 1, "build_mode": "headless", "platform": "linux64"},
			"game_time_elapsed": 0, "has_password": false, "server_id": "aGVsbG8=",
			"last_heartbeat": 1.0, "host_address": "192.0.2.4:34197",
			"mods": [{"name": "base", "version": "1.1.110"}, {"name": "rso", "version": "6.2.20"}]}`)
	}))
	defer ts.Close()

	details, err := newTestClient(ts).GetGameDetails(5)
	if err != nil {
		t.Fatalf("GetGameDetails: %v", err)
	}
	if len(details.Mods) != 1 || details.Mods[0].Name != "rso" {
		t.Errorf("mods = %+v, want base dropped", details.Mods)
	}
}

func TestGetGamesRetriesTransientFailures(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer ts.Close()

	if _, err := newTestClient(ts).GetGames(); err != nil {
		t.Fatalf("GetGames after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("upstream called %d times, want 3", calls)
	}
}
