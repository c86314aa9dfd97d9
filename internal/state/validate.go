package state

import (
	"fmt"
	"log"
)

// chainOverlapTolerance allows a successor session to be listed shortly
// before its predecessor is delisted (directory re-registration races).
const chainOverlapTolerance = TimeMinutes(15)

// FixCyclicPrevGameID breaks any cycle in the PrevGameID links. The
// documented transitions cannot create one, so a cycle is evidence of an
// upstream anomaly in a loaded checkpoint; the repair drops the prev
// link that closes the loop and logs it.
func (s *State) FixCyclicPrevGameID() {
	for serverID := 1; serverID < len(s.ServerChainHeads); serverID++ {
		visited := map[GameID]struct{}{}
		gameID := s.ServerChainHeads[serverID]
		for gameID != 0 {
			visited[gameID] = struct{}{}
			g := s.GetGame(gameID)
			if _, seen := visited[g.PrevGameID]; seen {
				log.Printf("[state] [warn] breaking cyclic prev link %d → %d (server %d)", gameID, g.PrevGameID, serverID)
				g.PrevGameID = 0
				break
			}
			gameID = g.PrevGameID
		}
	}
}

// Validate checks the structural invariants of the state. A violation
// means the checkpoint (or the code that produced it) cannot be
// trusted; callers abort on error.
func (s *State) Validate() error {
	current := make(map[GameID]struct{}, len(s.CurrentGameIDs))
	for _, id := range s.CurrentGameIDs {
		if s.Games.Get(id) == nil {
			return fmt.Errorf("current game id %d has no session", id)
		}
		current[id] = struct{}{}
	}

	games := s.Games.All()
	for i := range games {
		g := &games[i]
		_, isCurrent := current[g.GameID]
		if (g.TimeEnd == 0) != isCurrent {
			return fmt.Errorf("game %d: time_end=%d but current=%v", g.GameID, g.TimeEnd, isCurrent)
		}
		if err := validateIntervals(g); err != nil {
			return err
		}
		if g.ServerID != 0 {
			if !g.AreDetailsFetched() {
				return fmt.Errorf("game %d: chained but details not fetched", g.GameID)
			}
			if int(g.ServerID) >= len(s.ServerChainHeads) {
				return fmt.Errorf("game %d: server id %d out of range", g.GameID, g.ServerID)
			}
		}
	}

	for serverID := 1; serverID < len(s.ServerChainHeads); serverID++ {
		if err := s.validateChain(ServerID(serverID)); err != nil {
			return err
		}
	}
	return nil
}

// validateIntervals checks the tail-online ordering: every still-online
// interval follows every finished one.
func validateIntervals(g *Game) error {
	sawOnline := false
	for _, pi := range g.PlayersIntervals {
		if pi.End == 0 {
			sawOnline = true
		} else if sawOnline {
			return fmt.Errorf("game %d: finished interval after online interval", g.GameID)
		}
		if pi.End != 0 && pi.End < pi.Begin {
			return fmt.Errorf("game %d: interval ends before it begins", g.GameID)
		}
		if pi.End == 0 && g.TimeEnd != 0 {
			return fmt.Errorf("game %d: online interval in a finished session", g.GameID)
		}
	}
	return nil
}

// validateChain walks a chain from its head and checks membership
// bookkeeping and that adjacent sessions barely overlap.
func (s *State) validateChain(serverID ServerID) error {
	head := s.ServerChainHeads[serverID]
	g := s.Games.Get(head)
	if g == nil {
		return fmt.Errorf("server %d: head game %d unknown", serverID, head)
	}
	if g.NextGameID != 0 {
		return fmt.Errorf("server %d: head game %d has a next link", serverID, head)
	}
	for {
		if g.ServerID != serverID {
			return fmt.Errorf("server %d: chain member %d records server id %d", serverID, g.GameID, g.ServerID)
		}
		if g.PrevGameID == 0 {
			return nil
		}
		prev := s.Games.Get(g.PrevGameID)
		if prev == nil {
			return fmt.Errorf("server %d: prev game %d unknown", serverID, g.PrevGameID)
		}
		if prev.NextGameID != g.GameID {
			return fmt.Errorf("server %d: asymmetric link %d ↔ %d", serverID, prev.GameID, g.GameID)
		}
		if prev.TimeEnd == 0 {
			return fmt.Errorf("server %d: non-tail game %d still running", serverID, prev.GameID)
		}
		if prev.TimeEnd > g.TimeBegin+chainOverlapTolerance {
			return fmt.Errorf("server %d: games %d and %d overlap by more than %d minutes",
				serverID, prev.GameID, g.GameID, chainOverlapTolerance)
		}
		g = prev
	}
}
