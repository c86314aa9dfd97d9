package analytics

import (
	"fmt"
	"io"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/factorio-stats/backend/internal/state"
)

// Report writes a human-readable summary of a loaded state: overall
// sizes, the busiest current sessions, player-interval totals (all,
// online, player minutes), arena bytes, and what the state costs this
// process in memory.
func Report(s *state.State, w io.Writer) {
	now := state.NowMinutes()

	fmt.Fprintf(w, "observed game ids: %d\n", s.Games.Len())
	fmt.Fprintf(w, "observed servers:  %d\n", len(s.ServerChainHeads)-1)
	fmt.Fprintf(w, "currently listed:  %d\n", len(s.CurrentGameIDs))

	fmt.Fprintf(w, "\ngames with more than 5 players online:\n")
	for _, gameID := range s.CurrentGameIDs {
		if s.GetGame(gameID).NumberPlayersOnline() > 5 {
			fmt.Fprintf(w, "\t%s\n", s.GetGameName(gameID))
		}
	}

	var totalIntervals, totalOnline int
	var totalPlayerMinutes uint64
	games := s.Games.All()
	for i := range games {
		g := &games[i]
		totalIntervals += len(g.PlayersIntervals)
		totalOnline += g.NumberPlayersOnline()
		totalPlayerMinutes += g.TotalPlayerMinutes(now)
	}
	fmt.Fprintf(w, "\nplayer intervals:     %d (%d online)\n", totalIntervals, totalOnline)
	fmt.Fprintf(w, "total player minutes: %d\n", totalPlayerMinutes)

	arenaBytes := s.GameNames.Len() + s.GameDescriptions.Len() + s.Versions.Len() +
		s.Tags.Len() + s.HostAddresses.Len() + s.ModNames.Len() + s.PlayerNames.Len()
	fmt.Fprintf(w, "arena bytes:          %d\n", arenaBytes)

	reportProcessUsage(w)
}

// reportProcessUsage prints this process's resident memory and CPU
// time, so state growth is easy to correlate with real cost.
func reportProcessUsage(w io.Writer) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if mem, err := proc.MemoryInfo(); err == nil {
		fmt.Fprintf(w, "\nprocess rss:          %d MiB\n", mem.RSS/(1<<20))
	}
	if times, err := proc.Times(); err == nil {
		fmt.Fprintf(w, "process cpu seconds:  %.1f\n", times.User+times.System)
	}
}
