package updater

import (
	"bytes"
	"log"
	"sort"

	"github.com/factorio-stats/backend/internal/state"
)

// The host-merge protocol converts "this host's game id set changed"
// observations into prev/next links between sessions. A directory
// re-registration (server restart) mints a new game id under the same
// host id, possibly while the old one is still briefly listed; the
// protocol waits for the set to settle and then matches old ids to new
// ones, refusing to guess when the match is ambiguous.

// tryMergeHostIDs walks the merge queue and discharges every entry
// whose host has been stable for HostIDMergeDelay. Hosts are processed
// in id order so chain allocation is deterministic.
func tryMergeHostIDs(us *State, s *state.State, t state.TimeMinutes) {
	currByHost := groupGameIDsByHost(s.CurrentGameIDs, s)

	hosts := make([]state.HostID, 0, len(us.ScheduledToMergeHostIDs))
	for h := range us.ScheduledToMergeHostIDs {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool {
		return bytes.Compare(hosts[i][:], hosts[j][:]) < 0
	})

	for _, h := range hosts {
		info := us.ScheduledToMergeHostIDs[h]
		if t-info.LastChangeTime < HostIDMergeDelay {
			continue // still settling
		}

		currHost, ok := currByHost[h]
		if !ok {
			// no new session appeared; nothing to link up
			delete(us.ScheduledToMergeHostIDs, h)
			continue
		}

		if tryMergeHost(info.BaselineGameIDs, currHost, s) {
			delete(us.ScheduledToMergeHostIDs, h)
		}
	}
}

// idSet builds a membership set from a slice of game ids.
func idSet(ids []state.GameID) map[state.GameID]struct{} {
	set := make(map[state.GameID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// tryMergeHost resolves one host's baseline-vs-current id sets into
// links. It returns false when the detail gate is not yet satisfied, in
// which case the queue entry is kept and retried on a later snapshot.
func tryMergeHost(prevIDs, currIDs []state.GameID, s *state.State) bool {
	// ids present on both sides never restarted; they carry no signal
	prevSet := idSet(prevIDs)
	currSet := idSet(currIDs)
	var prev, curr []state.GameID
	for _, id := range prevIDs {
		if _, common := currSet[id]; !common {
			prev = append(prev, id)
		}
	}
	for _, id := range currIDs {
		if _, common := prevSet[id]; !common {
			curr = append(curr, id)
		}
	}

	// Linking consults host addresses and must survive session naming
	// collisions, so nothing proceeds until the detail fetcher has
	// populated every involved session.
	for _, id := range append(append([]state.GameID{}, prev...), curr...) {
		if !s.GetGame(id).AreDetailsFetched() {
			return false
		}
	}

	switch {
	case len(prev) == 1 && len(curr) == 1:
		mergeGames(curr[0], prev[0], s)
	case len(prev) == 0:
		for _, id := range curr {
			mergeGames(id, 0, s)
		}
	default:
		byName := func(id state.GameID) string { return s.GetGameName(id) }
		byHost := func(id state.GameID) string { return s.GetGameHost(id) }
		if !tryMatchByProperty(prev, curr, s, byName) && !tryMatchByProperty(prev, curr, s, byHost) {
			log.Printf("[updater] [warn] ambiguous restart: %v → %v, starting fresh chains", prev, curr)
			for _, id := range curr {
				mergeGames(id, 0, s)
			}
		}
	}
	return true
}

// tryMatchByProperty links current ids to baseline ids by equal
// property value. The pass only applies when the property is injective
// on both sides; otherwise matching by it could produce a wrong link,
// and a wrong link is worse than two independent chains.
func tryMatchByProperty(prevIDs, currIDs []state.GameID, s *state.State, property func(state.GameID) string) bool {
	prevByProp := make(map[string]state.GameID, len(prevIDs))
	for _, id := range prevIDs {
		prevByProp[property(id)] = id
	}
	currByProp := make(map[string]state.GameID, len(currIDs))
	for _, id := range currIDs {
		currByProp[property(id)] = id
	}
	if len(prevByProp) != len(prevIDs) || len(currByProp) != len(currIDs) {
		return false
	}

	for _, id := range currIDs {
		prevID := prevByProp[property(id)] // zero when unmatched: fresh chain
		mergeGames(id, prevID, s)
	}
	return true
}

// mergeGames links currID onto prevID's chain, or starts a new chain
// when prevID is zero.
func mergeGames(currID, prevID state.GameID, s *state.State) {
	var serverID state.ServerID
	if prevID != 0 {
		prevGame := s.GetGame(prevID)
		if prevGame.TimeEnd == 0 {
			log.Panicf("[updater] linking onto still-running game %d", prevID)
		}
		if prevGame.NextGameID != 0 {
			// unreachable under correct inputs; prefer the fresh link
			log.Printf("[updater] [warn] game %d already has next link %d, overwriting with %d",
				prevID, prevGame.NextGameID, currID)
		}
		prevGame.NextGameID = currID
		s.GetGame(currID).PrevGameID = prevID

		// prevID became a chain head when its own merge ran
		slot := -1
		for i, headID := range s.ServerChainHeads {
			if headID == prevID {
				slot = i
				break
			}
		}
		if slot < 0 {
			log.Panicf("[updater] game %d is linked but heads no chain", prevID)
		}
		s.ServerChainHeads[slot] = currID
		serverID = state.ServerID(slot)
	} else {
		serverID = state.ServerID(len(s.ServerChainHeads))
		s.ServerChainHeads = append(s.ServerChainHeads, currID)
	}

	s.GetGame(currID).ServerID = serverID
}
