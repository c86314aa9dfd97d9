package updater

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/factorio-stats/backend/internal/state"
)

// HostIDMergeDelay is how long a host's listing must stay unchanged
// before its pending merge is attempted, in minutes. Directory
// re-registrations can take several snapshots to settle; attempting
// earlier would chain against a half-visible picture.
const HostIDMergeDelay = 20

// MergeInfo is one deferred host-merge work item.
type MergeInfo struct {
	// FirstChangeTime is when this host's game id set first changed.
	FirstChangeTime state.TimeMinutes
	// LastChangeTime is refreshed on every further change; the merge
	// waits until the set has been stable for HostIDMergeDelay.
	LastChangeTime state.TimeMinutes
	// BaselineGameIDs is the host's game id set immediately before the
	// first change.
	BaselineGameIDs []state.GameID
}

// State is the updater's own persistent region: the deferred host-merge
// queue. It checkpoints together with the main state.
type State struct {
	ScheduledToMergeHostIDs map[state.HostID]*MergeInfo
}

// NewState returns an empty updater state.
func NewState() *State {
	return &State{ScheduledToMergeHostIDs: make(map[state.HostID]*MergeInfo)}
}

// Lock pairs the updater state with its RWMutex. It is acquired before
// the main state lock.
type Lock struct {
	sync.RWMutex
	S *State
}

// Encode serializes the merge queue. Map entries are written in host id
// order so the checkpoint bytes are deterministic.
func (us *State) Encode(e *state.Encoder) {
	hosts := make([]state.HostID, 0, len(us.ScheduledToMergeHostIDs))
	for h := range us.ScheduledToMergeHostIDs {
		hosts = append(hosts, h)
	}
	sort.Slice(hosts, func(i, j int) bool {
		return bytes.Compare(hosts[i][:], hosts[j][:]) < 0
	})

	e.U32(uint32(len(hosts)))
	for _, h := range hosts {
		info := us.ScheduledToMergeHostIDs[h]
		e.Raw(h[:])
		e.U32(uint32(info.FirstChangeTime))
		e.U32(uint32(info.LastChangeTime))
		e.U32(uint32(len(info.BaselineGameIDs)))
		for _, id := range info.BaselineGameIDs {
			e.U32(uint32(id))
		}
	}
}

// DecodeUpdaterState deserializes what Encode wrote.
func DecodeUpdaterState(d *state.Decoder) (*State, error) {
	us := NewState()
	n := d.U32()
	for i := uint32(0); i < n && d.Err() == nil; i++ {
		var h state.HostID
		d.Raw(h[:])
		info := &MergeInfo{
			FirstChangeTime: state.TimeMinutes(d.U32()),
			LastChangeTime:  state.TimeMinutes(d.U32()),
		}
		m := d.U32()
		if m > 0 && d.Err() == nil {
			info.BaselineGameIDs = make([]state.GameID, m)
			for j := range info.BaselineGameIDs {
				info.BaselineGameIDs[j] = state.GameID(d.U32())
			}
		}
		us.ScheduledToMergeHostIDs[h] = info
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("decoding updater state: %w", err)
	}
	return us, nil
}

// Validate checks that every game id referenced by the merge queue
// exists in the main state.
func (us *State) Validate(s *state.State) error {
	for h, info := range us.ScheduledToMergeHostIDs {
		for _, id := range info.BaselineGameIDs {
			if s.Games.Get(id) == nil {
				return fmt.Errorf("merge queue for host %x references unknown game %d", h[:4], id)
			}
		}
	}
	return nil
}
