package fetcher

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/state"
)

// offlineResponsesDir holds previously captured /get-games responses,
// one JSON file per minute, used to rebuild a state without touching
// the live directory.
const offlineResponsesDir = "temp/cache-get-games"

// RunGamesOffline replays numberResponses saved listings as snapshots
// at minutes 1, 2, …, then returns. Replay time is synthetic, so a full
// day's worth of responses applies in seconds.
func RunGamesOffline(out *SnapshotQueue, numberResponses uint32) error {
	if numberResponses > 2880 {
		return fmt.Errorf("at most 2880 saved responses are kept, got %d", numberResponses)
	}
	for i := uint32(0); i < numberResponses; i++ {
		if i%10 == 0 {
			log.Printf("[fetcher_get_games_offline] iteration %4d", i)
		}
		path := fmt.Sprintf("%s/%04d.json", offlineResponsesDir, i)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading saved response: %w", err)
		}
		var games api.GetGamesResponse
		if err := json.Unmarshal(data, &games); err != nil {
			return fmt.Errorf("parsing saved response %s: %w", path, err)
		}
		out.Push(Snapshot{
			Games: api.CleanGetGamesResponse(games),
			Time:  state.TimeMinutes(1 + i),
		})
	}
	return nil
}

// RunDetailsFake populates every incoming session with fixed
// placeholder details, for state rebuilds where the real detail
// endpoint no longer remembers the sessions.
func RunDetailsFake(stateLock *state.Lock, in <-chan state.GameID) {
	stateLock.Lock()
	s := stateLock.S
	hostAddress := s.HostAddresses.Add("fake_host_address")
	modName := s.ModNames.Add("fake_mod_name")
	modVersion := s.Versions.Add("fake_mod_version")
	stateLock.Unlock()

	for gameID := range in {
		stateLock.Lock()
		g := stateLock.S.GetGame(gameID)
		g.HostAddress = hostAddress
		g.Mods = []state.Mod{{Name: modName, Version: modVersion}}
		stateLock.Unlock()
	}
}
