package updater

import (
	"encoding/base64"
	"log"
	"sort"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/fetcher"
	"github.com/factorio-stats/backend/internal/state"
)

// Run consumes snapshots from the poll queue and applies each one as a
// single step under the write locks. It returns when the queue is
// closed. Snapshots are applied strictly in arrival order; readers
// observe either the pre- or the post-snapshot state, never a partial
// application.
func Run(
	updaterLock *Lock,
	stateLock *state.Lock,
	snapshots *fetcher.SnapshotQueue,
	details chan<- state.GameID,
) {
	for {
		snap, ok := snapshots.Pop()
		if !ok {
			break
		}
		log.Printf("[updater] handle response for minute=%d", snap.Time)

		updaterLock.Lock()
		stateLock.Lock()
		ApplySnapshot(updaterLock.S, stateLock.S, snap.Games, snap.Time, details)
		stateLock.Unlock()
		updaterLock.Unlock()
	}
	log.Printf("[updater] exit")
}

// ApplySnapshot runs one full updater step: session creation and player
// deltas, finalization of disappeared sessions, merge scheduling, the
// current-set swap, and finally an attempt to discharge pending merges.
// The caller holds both write locks.
func ApplySnapshot(us *State, s *state.State, games api.GetGamesResponse, t state.TimeMinutes, details chan<- state.GameID) {
	// Ascending id order improves detail-endpoint cache locality.
	sort.Slice(games, func(i, j int) bool { return games[i].GameID < games[j].GameID })

	for i := range games {
		snapshot := &games[i]
		if s.Games.Contains(state.GameID(snapshot.GameID)) {
			updateGame(snapshot, s, t)
		} else {
			s.Games.Insert(convertSnapshotToGame(snapshot, s, t))
			if details != nil {
				details <- state.GameID(snapshot.GameID)
			}
		}
	}

	currSet := make(map[state.GameID]struct{}, len(games))
	for i := range games {
		currSet[state.GameID(games[i].GameID)] = struct{}{}
	}
	prevSet := make(map[state.GameID]struct{}, len(s.CurrentGameIDs))
	for _, id := range s.CurrentGameIDs {
		prevSet[id] = struct{}{}
	}

	updateFinishedGames(prevSet, currSet, s, t)

	scheduleHostIDsMerging(prevSet, currSet, us, s, t)

	s.CurrentGameIDs = sortedIDs(currSet)

	tryMergeHostIDs(us, s, t)
}

// decodeHostID decodes the upstream's base64 host identifier. The
// cleaning stage dropped entries without one; a malformed value is an
// impossible state and aborts.
func decodeHostID(encoded string) state.HostID {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		log.Panicf("[updater] malformed host id %q: %v", encoded, err)
	}
	var h state.HostID
	copy(h[:], raw)
	return h
}

func convertSnapshotToGame(snapshot *api.Game, s *state.State, t state.TimeMinutes) state.Game {
	tags := joinTags(snapshot.Tags)

	intervals := make([]state.PlayerInterval, 0, len(snapshot.Players))
	for _, player := range snapshot.Players {
		intervals = append(intervals, state.PlayerInterval{
			Player: s.PlayerNames.Add(player),
			Begin:  t,
		})
	}

	var modCount uint16
	if snapshot.ModCount != nil {
		modCount = *snapshot.ModCount
	}

	return state.Game{
		GameID:           state.GameID(snapshot.GameID),
		TimeBegin:        t,
		PlayersIntervals: intervals,
		HostID:           decodeHostID(*snapshot.HostID),
		Name:             s.GameNames.Add(snapshot.Name),
		Description:      s.GameDescriptions.Add(snapshot.Description),
		MaxPlayers:       uint32(snapshot.MaxPlayers),
		GameVersion:      s.Versions.Add(snapshot.ApplicationVersion.GameVersion),
		GameTimeElapsed:  uint32(snapshot.GameTimeElapsed),
		HasPassword:      bool(snapshot.HasPassword),
		Tags:             s.Tags.Add(tags),
		ModCount:         modCount,
	}
}

// joinTags packs the tag list into one interned string, \x02-separated.
// An embedded separator inside a tag is demoted to \x01.
func joinTags(tags []string) string {
	var out []byte
	for i, tag := range tags {
		if i > 0 {
			out = append(out, 0x02)
		}
		for j := 0; j < len(tag); j++ {
			c := tag[j]
			if c == 0x02 {
				c = 0x01
			}
			out = append(out, c)
		}
	}
	return string(out)
}

// updateGame applies the player delta for one still-listed session.
// Still-online intervals live at the tail; intervals whose player left
// get closed and swapped leftward so the tail-online invariant holds
// without any re-sort.
func updateGame(snapshot *api.Game, s *state.State, t state.TimeMinutes) {
	g := s.GetGame(state.GameID(snapshot.GameID))
	g.GameTimeElapsed = uint32(snapshot.GameTimeElapsed)

	nowOnline := make(map[string]struct{}, len(snapshot.Players))
	for _, p := range snapshot.Players {
		nowOnline[p] = struct{}{}
	}

	firstOnline := 0
	for i := len(g.PlayersIntervals) - 1; i >= 0; i-- {
		if g.PlayersIntervals[i].End != 0 {
			firstOnline = i + 1
			break
		}
	}
	for i := firstOnline; i < len(g.PlayersIntervals); i++ {
		pi := &g.PlayersIntervals[i]
		name := string(s.PlayerNames.Get(pi.Player))
		if _, ok := nowOnline[name]; ok {
			delete(nowOnline, name)
		} else {
			pi.End = t
			g.PlayersIntervals[i], g.PlayersIntervals[firstOnline] = g.PlayersIntervals[firstOnline], g.PlayersIntervals[i]
			firstOnline++
		}
	}

	// what is left in nowOnline are newly joined players; append them
	// in a fixed order so repeated runs produce identical states
	newPlayers := make([]string, 0, len(nowOnline))
	for name := range nowOnline {
		newPlayers = append(newPlayers, name)
	}
	sort.Strings(newPlayers)
	for _, name := range newPlayers {
		g.PlayersIntervals = append(g.PlayersIntervals, state.PlayerInterval{
			Player: s.PlayerNames.Add(name),
			Begin:  t,
		})
	}
}

// updateFinishedGames finalizes every session present in the previous
// snapshot but absent from this one.
func updateFinishedGames(prevSet, currSet map[state.GameID]struct{}, s *state.State, t state.TimeMinutes) {
	for _, id := range sortedIDs(prevSet) {
		if _, stillHere := currSet[id]; stillHere {
			continue
		}
		g := s.GetGame(id)
		g.TimeEnd = t
		for i := len(g.PlayersIntervals) - 1; i >= 0; i-- {
			if g.PlayersIntervals[i].End != 0 {
				break
			}
			g.PlayersIntervals[i].End = t
		}
	}
}

// scheduleHostIDsMerging enters every host whose game id set changed in
// this snapshot into the merge queue, or refreshes the settle timer of
// hosts already queued.
func scheduleHostIDsMerging(prevSet, currSet map[state.GameID]struct{}, us *State, s *state.State, t state.TimeMinutes) {
	prevByHost := groupGameIDsByHost(sortedIDs(prevSet), s)

	changedHosts := make(map[state.HostID]struct{})
	for id := range prevSet {
		if _, ok := currSet[id]; !ok {
			changedHosts[s.GetGame(id).HostID] = struct{}{}
		}
	}
	for id := range currSet {
		if _, ok := prevSet[id]; !ok {
			changedHosts[s.GetGame(id).HostID] = struct{}{}
		}
	}

	for h := range changedHosts {
		if info, ok := us.ScheduledToMergeHostIDs[h]; ok {
			info.LastChangeTime = t
		} else {
			us.ScheduledToMergeHostIDs[h] = &MergeInfo{
				FirstChangeTime: t,
				LastChangeTime:  t,
				BaselineGameIDs: prevByHost[h],
			}
		}
	}
}

func groupGameIDsByHost(ids []state.GameID, s *state.State) map[state.HostID][]state.GameID {
	byHost := make(map[state.HostID][]state.GameID)
	for _, id := range ids {
		h := s.GetGame(id).HostID
		byHost[h] = append(byHost[h], id)
	}
	return byHost
}

func sortedIDs(set map[state.GameID]struct{}) []state.GameID {
	ids := make([]state.GameID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
