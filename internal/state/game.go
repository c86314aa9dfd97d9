package state

import "sort"

// Mod is one entry of a session's mod list. Versions intern into the
// shared versions arena, names into the mod-names arena.
type Mod struct {
	Name    StringRef
	Version StringRef
}

// PlayerInterval records one continuous stretch of a player being online
// in a session. The interval is half-open: [Begin, End). End == 0 means
// the player is still online.
type PlayerInterval struct {
	Player StringRef
	Begin  TimeMinutes
	End    TimeMinutes
}

// Game is the complete record of one session (one game_id). Metadata
// observed in the first snapshot must not change for the lifetime of the
// session; description, host address and mods arrive later via the
// detail fetcher.
//
// All players currently online are guaranteed to be at the tail of
// PlayersIntervals (every interval with End == 0 follows every interval
// with End != 0). The updater maintains this so that per-snapshot player
// deltas only ever scan the online suffix.
type Game struct {
	GameID GameID
	// ServerID is zero until the merge protocol assigns this session to
	// a logical server chain.
	ServerID   ServerID
	PrevGameID GameID
	NextGameID GameID

	// [TimeBegin, TimeEnd); TimeEnd == 0 while the session is listed.
	TimeBegin TimeMinutes
	TimeEnd   TimeMinutes

	PlayersIntervals []PlayerInterval

	HostID          HostID
	Name            StringRef
	Description     StringRef
	MaxPlayers      uint32
	GameVersion     StringRef
	GameTimeElapsed uint32
	HasPassword     bool
	// Tags are joined with \x02 into a single interned string.
	Tags     StringRef
	ModCount uint16

	// HostAddress == 0 means details were not fetched yet.
	HostAddress StringRef
	// Mods == nil means either "not fetched yet" or, after mod-list
	// compaction, "same as the previous session in the chain".
	Mods []Mod
}

// NumberPlayersOnline returns the count of players currently online,
// i.e. the length of the End == 0 suffix of PlayersIntervals.
func (g *Game) NumberPlayersOnline() int {
	return len(g.PlayersIntervals) - g.firstOnlineIndex()
}

// firstOnlineIndex returns the index of the first still-online interval,
// or len(PlayersIntervals) if nobody is online.
func (g *Game) firstOnlineIndex() int {
	for i := len(g.PlayersIntervals) - 1; i >= 0; i-- {
		if g.PlayersIntervals[i].End != 0 {
			return i + 1
		}
	}
	return 0
}

// MaximumNumberPlayers runs a sweep line over all player intervals and
// returns the highest simultaneous player count together with the time
// at which it was (last) reached. Ties prefer the later time.
func (g *Game) MaximumNumberPlayers(now TimeMinutes) (int, TimeMinutes) {
	type event struct {
		time  TimeMinutes
		begin bool
	}
	events := make([]event, 0, len(g.PlayersIntervals)*2)
	for _, pi := range g.PlayersIntervals {
		end := pi.End
		if end == 0 {
			end = now
		}
		events = append(events, event{pi.Begin, true}, event{end, false})
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].time != events[j].time {
			return events[i].time < events[j].time
		}
		// Begin sorts before End at equal times, matching the sweep
		// order of the (time, type) pairs.
		return events[i].begin && !events[j].begin
	})

	current, maximum := 0, 0
	var resultTime TimeMinutes = 1
	for _, ev := range events {
		if ev.begin {
			current++
		} else {
			current--
		}
		if current >= maximum {
			maximum = current
			resultTime = ev.time
		}
	}
	return maximum, resultTime
}

// NumberPlayersAll returns the count of distinct players ever seen in
// this session.
func (g *Game) NumberPlayersAll() int {
	seen := make(map[StringRef]struct{}, len(g.PlayersIntervals))
	for _, pi := range g.PlayersIntervals {
		seen[pi.Player] = struct{}{}
	}
	return len(seen)
}

// TotalPlayerMinutes sums the online duration of every player interval.
func (g *Game) TotalPlayerMinutes(now TimeMinutes) uint64 {
	var total uint64
	for _, pi := range g.PlayersIntervals {
		end := pi.End
		if end == 0 {
			end = now
		}
		total += uint64(end - pi.Begin)
	}
	return total
}

// AreDetailsFetched reports whether the detail fetcher has populated
// this session.
func (g *Game) AreDetailsFetched() bool { return g.HostAddress != 0 }
