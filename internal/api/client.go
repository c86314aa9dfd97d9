package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultBaseURL = "https://multiplayer.factorio.com"

// Retry budgets per endpoint. Transient upstream failures (network,
// 5xx) are retried with exponential backoff, base 1.5.
const (
	getGamesAttempts       = 10
	getGameDetailsAttempts = 4
	backoffMultiplier      = 1.5
)

// Client talks to the public game directory. The directory
// authenticates the list endpoint with a username/token query pair.
type Client struct {
	baseURL  string
	username string
	token    string
	http     *http.Client
}

// NewClientFromEnv builds a Client from FACTORIO_USERNAME and
// FACTORIO_TOKEN.
func NewClientFromEnv() (*Client, error) {
	username := os.Getenv("FACTORIO_USERNAME")
	if username == "" {
		return nil, fmt.Errorf("missing FACTORIO_USERNAME env variable")
	}
	token := os.Getenv("FACTORIO_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("missing FACTORIO_TOKEN env variable")
	}
	return &Client{
		baseURL:  defaultBaseURL,
		username: username,
		token:    token,
		http:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func newBackoff(maxAttempts uint64) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = backoffMultiplier
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, maxAttempts-1)
}

// errNotFound marks a semantic 404 from the detail endpoint.
var errNotFound = fmt.Errorf("not found")

func (c *Client) get(u string) ([]byte, error) {
	resp, err := c.http.Get(u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("[api] [error] request failed: response text is `%s`", body)
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	return body, nil
}

func (c *Client) getWithRetries(u string, attempts uint64) ([]byte, error) {
	var body []byte
	op := func() error {
		var err error
		body, err = c.get(u)
		if err == errNotFound {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("[api] [error] request failed, will retry: %v", err)
		}
		return err
	}
	if err := backoff.Retry(op, newBackoff(attempts)); err != nil {
		return nil, err
	}
	return body, nil
}

// GetGames fetches the full directory listing and cleans it.
func (c *Client) GetGames() (GetGamesResponse, error) {
	u := fmt.Sprintf("%s/get-games?username=%s&token=%s",
		c.baseURL, url.QueryEscape(c.username), url.QueryEscape(c.token))
	body, err := c.getWithRetries(u, getGamesAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetching game list: %w", err)
	}
	games, err := decodeGames(body)
	if err != nil {
		return nil, fmt.Errorf("parsing game list: %w", err)
	}
	return CleanGetGamesResponse(games), nil
}

// GetGameDetails fetches per-session details. A 404 is a terminal
// negative answer and returns (nil, nil): the directory has already
// forgotten the session.
func (c *Client) GetGameDetails(gameID uint32) (*Game, error) {
	u := fmt.Sprintf("%s/get-game-details/%d", c.baseURL, gameID)
	body, err := c.getWithRetries(u, getGameDetailsAttempts)
	if err == errNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching details for game %d: %w", gameID, err)
	}

	var game Game
	if err := json.Unmarshal(body, &game); err != nil {
		return nil, fmt.Errorf("parsing details for game %d: %w", gameID, err)
	}
	// Every session carries the base game as a pseudo-mod; it adds no
	// information.
	mods := game.Mods[:0]
	for _, m := range game.Mods {
		if m.Name != "base" {
			mods = append(mods, m)
		}
	}
	game.Mods = mods
	return &game, nil
}

// CleanGetGamesResponse drops unusable entries: sessions without a host
// identifier or with the sentinel version "0.0.0" cannot participate in
// chaining. Empty player names are stripped.
func CleanGetGamesResponse(games GetGamesResponse) GetGamesResponse {
	cleaned := games[:0]
	for i := range games {
		g := &games[i]
		if g.HostID == nil || *g.HostID == "" {
			continue
		}
		if g.ApplicationVersion.GameVersion == "0.0.0" {
			continue
		}
		players := g.Players[:0]
		for _, p := range g.Players {
			if p != "" {
				players = append(players, p)
			}
		}
		g.Players = players
		cleaned = append(cleaned, *g)
	}
	return cleaned
}
