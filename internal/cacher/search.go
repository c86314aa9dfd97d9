package cacher

import (
	"regexp"
	"sort"
	"sync"

	"github.com/factorio-stats/backend/internal/state"
)

const maxSearchResults = 100

// searchMu serializes searches: each one scans every chain head, and
// running them concurrently under load would multiply that cost.
var searchMu sync.Mutex

// GameSearchInfo is one search hit.
type GameSearchInfo struct {
	ServerID  state.ServerID     `json:"server_id"`
	Name      string             `json:"name"`
	TimeBegin state.TimeMinutes  `json:"time_begin"`
	TimeEnd   *state.TimeMinutes `json:"time_end"`
}

// SearchServers matches query (escaped, case-insensitive) against the
// latest session name of every chain, newest chains first, and returns
// up to 100 hits ordered by (still-running first, then most recently
// ended, then begin time).
func SearchServers(stateLock *state.Lock, query string) ([]GameSearchInfo, error) {
	queryRegex, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, err
	}

	searchMu.Lock()
	defer searchMu.Unlock()

	stateLock.RLock()
	defer stateLock.RUnlock()
	s := stateLock.S

	var hits []GameSearchInfo
	for serverID := len(s.ServerChainHeads) - 1; serverID >= 1; serverID-- {
		lastGameID := s.ServerChainHeads[serverID]
		if !queryRegex.MatchString(s.GetGameName(lastGameID)) {
			continue
		}
		lastGame := s.GetGame(lastGameID)
		firstGame := s.GetGame(s.ServerFirstGameID(state.ServerID(serverID)))

		var timeEnd *state.TimeMinutes
		if lastGame.TimeEnd != 0 {
			end := lastGame.TimeEnd
			timeEnd = &end
		}
		hits = append(hits, GameSearchInfo{
			ServerID:  state.ServerID(serverID),
			Name:      s.GetGameName(lastGameID),
			TimeBegin: firstGame.TimeBegin,
			TimeEnd:   timeEnd,
		})
		if len(hits) == maxSearchResults {
			break
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		iEnded, jEnded := hits[i].TimeEnd != nil, hits[j].TimeEnd != nil
		if iEnded != jEnded {
			return !iEnded // still-running servers first
		}
		if iEnded && *hits[i].TimeEnd != *hits[j].TimeEnd {
			return *hits[i].TimeEnd > *hits[j].TimeEnd
		}
		return hits[i].TimeBegin < hits[j].TimeBegin
	})
	return hits, nil
}
