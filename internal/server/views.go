package server

import (
	"encoding/base64"
	"strings"

	"github.com/factorio-stats/backend/internal/state"
)

// The view types resolve every interned reference into a plain string
// so the JSON layer never sees arena offsets.

type serverView struct {
	Games []gameView `json:"games"`
}

type playerIntervalView struct {
	Player string             `json:"player"`
	Begin  state.TimeMinutes  `json:"begin"`
	End    *state.TimeMinutes `json:"end"`
}

type modView struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type gameView struct {
	GameID     state.GameID       `json:"game_id"`
	ServerID   state.ServerID     `json:"server_id"`
	PrevGameID *state.GameID      `json:"prev_game_id"`
	NextGameID *state.GameID      `json:"next_game_id"`
	TimeBegin  state.TimeMinutes  `json:"time_begin"`
	TimeEnd    *state.TimeMinutes `json:"time_end"`

	PlayersIntervals []playerIntervalView `json:"players_intervals"`

	HostID          string   `json:"host_id"`
	Name            string   `json:"name"`
	MaxPlayers      uint32   `json:"max_players"`
	GameVersion     string   `json:"game_version"`
	GameTimeElapsed uint32   `json:"game_time_elapsed"`
	HasPassword     bool     `json:"has_password"`
	Tags            []string `json:"tags"`
	ModCount        uint16   `json:"mod_count"`

	Description string    `json:"description"`
	HostAddress string    `json:"host_address"`
	Mods        []modView `json:"mods,omitempty"`
}

// convertGame builds the JSON view of one session, clipping player
// intervals to [timeBegin, timeEnd). Intervals entirely outside the
// window are dropped; a clipped still-online end stays null.
func convertGame(s *state.State, g *state.Game, timeBegin, timeEnd state.TimeMinutes) gameView {
	intervals := make([]playerIntervalView, 0, len(g.PlayersIntervals))
	for _, pi := range g.PlayersIntervals {
		if pi.Begin >= timeEnd || (pi.End != 0 && pi.End <= timeBegin) {
			continue
		}
		begin := pi.Begin
		if begin < timeBegin {
			begin = timeBegin
		}
		var end *state.TimeMinutes
		if pi.End != 0 {
			clipped := pi.End
			if clipped > timeEnd {
				clipped = timeEnd
			}
			end = &clipped
		}
		intervals = append(intervals, playerIntervalView{
			Player: s.PlayerNames.GetString(pi.Player),
			Begin:  begin,
			End:    end,
		})
	}

	var mods []modView
	for _, m := range s.GetMods(g) {
		mods = append(mods, modView{
			Name:    s.ModNames.GetString(m.Name),
			Version: s.Versions.GetString(m.Version),
		})
	}

	var tags []string
	if raw := s.Tags.GetString(g.Tags); raw != "" {
		tags = strings.Split(raw, "\x02")
	}

	hostAddress := ""
	if g.HostAddress != 0 {
		hostAddress = s.HostAddresses.GetString(g.HostAddress)
	}

	return gameView{
		GameID:           g.GameID,
		ServerID:         g.ServerID,
		PrevGameID:       optionalGameID(g.PrevGameID),
		NextGameID:       optionalGameID(g.NextGameID),
		TimeBegin:        g.TimeBegin,
		TimeEnd:          optionalTime(g.TimeEnd),
		PlayersIntervals: intervals,
		HostID:           base64.StdEncoding.EncodeToString(g.HostID[:]),
		Name:             s.GameNames.GetString(g.Name),
		MaxPlayers:       g.MaxPlayers,
		GameVersion:      s.Versions.GetString(g.GameVersion),
		GameTimeElapsed:  g.GameTimeElapsed,
		HasPassword:      g.HasPassword,
		Tags:             tags,
		ModCount:         g.ModCount,
		Description:      s.GameDescriptions.GetString(g.Description),
		HostAddress:      hostAddress,
		Mods:             mods,
	}
}

func optionalGameID(id state.GameID) *state.GameID {
	if id == 0 {
		return nil
	}
	return &id
}

func optionalTime(t state.TimeMinutes) *state.TimeMinutes {
	if t == 0 {
		return nil
	}
	return &t
}
