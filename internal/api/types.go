package api

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// The directory is not consistent about JSON types: numeric and boolean
// fields regularly arrive as strings ("32", "true"). FlexUint and
// FlexBool accept both encodings.

// FlexUint is a uint32 that also decodes from a JSON string.
type FlexUint uint32

// UnmarshalJSON implements json.Unmarshaler.
func (v *FlexUint) UnmarshalJSON(data []byte) error {
	data = unquote(data)
	n, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return err
	}
	*v = FlexUint(n)
	return nil
}

// FlexBool is a bool that also decodes from a JSON string.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (v *FlexBool) UnmarshalJSON(data []byte) error {
	data = unquote(data)
	b, err := strconv.ParseBool(string(data))
	if err != nil {
		return err
	}
	*v = FlexBool(b)
	return nil
}

func unquote(data []byte) []byte {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1]
	}
	return bytes.TrimSpace(data)
}

// ApplicationVersion is the upstream's version block.
type ApplicationVersion struct {
	GameVersion  string   `json:"game_version"`
	BuildVersion FlexUint `json:"build_version"`
	BuildMode    string   `json:"build_mode"`
	Platform     string   `json:"platform"`
}

// Mod is one mod entry from a detail response.
type Mod struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Game is one session as reported by the directory. The list endpoint
// and the detail endpoint return overlapping subsets of these fields:
// HasMods/ModCount only appear in list responses, LastHeartbeat and
// everything after it only in detail responses.
type Game struct {
	GameID             uint32             `json:"game_id"`
	Name               string             `json:"name"`
	Description        string             `json:"description"`
	MaxPlayers         FlexUint           `json:"max_players"`
	Players            []string           `json:"players"`
	ApplicationVersion ApplicationVersion `json:"application_version"`
	// in minutes
	GameTimeElapsed FlexUint `json:"game_time_elapsed"`
	HasPassword     FlexBool `json:"has_password"`
	// base64 of the upstream's 32-byte host identifier
	HostID *string  `json:"server_id"`
	Tags   []string `json:"tags"`

	HasMods  *bool   `json:"has_mods,omitempty"`
	ModCount *uint16 `json:"mod_count,omitempty"`

	// unix time (seconds since epoch)
	LastHeartbeat           *float64 `json:"last_heartbeat,omitempty"`
	HostAddress             *string  `json:"host_address,omitempty"`
	Mods                    []Mod    `json:"mods,omitempty"`
	ModsCRC                 *uint64  `json:"mods_crc,omitempty"`
	SteamID                 *string  `json:"steam_id,omitempty"`
	RequireUserVerification *string  `json:"require_user_verification,omitempty"`
}

// GetGamesResponse is the full directory listing.
type GetGamesResponse []Game

func decodeGames(data []byte) (GetGamesResponse, error) {
	var games GetGamesResponse
	if err := json.Unmarshal(data, &games); err != nil {
		return nil, err
	}
	return games, nil
}
