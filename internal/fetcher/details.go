package fetcher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/state"
)

// unknownSentinel fills host address and mods when the directory
// answers 404: the session is gone upstream, but chaining still needs a
// populated record, so it gets a terminal placeholder.
const unknownSentinel = "unknown"

// queueLengthWarnThreshold flags a detail backlog that the 1/s pace
// cannot clear quickly.
const queueLengthWarnThreshold = 100

// DetailState is the detail fetcher's persistent region: the FIFO of
// game ids still awaiting a detail fetch. It checkpoints with the rest
// of the state so a restart resumes where it left off.
type DetailState struct {
	GameIDs []state.GameID
}

// NewDetailState returns an empty queue.
func NewDetailState() *DetailState {
	return &DetailState{}
}

// DetailLock pairs the detail state with its RWMutex. It is the last
// region in the acquire order.
type DetailLock struct {
	sync.RWMutex
	S *DetailState
}

// Encode serializes the pending-id queue.
func (ds *DetailState) Encode(e *state.Encoder) {
	e.U32(uint32(len(ds.GameIDs)))
	for _, id := range ds.GameIDs {
		e.U32(uint32(id))
	}
}

// DecodeDetailState deserializes what Encode wrote.
func DecodeDetailState(d *state.Decoder) (*DetailState, error) {
	ds := NewDetailState()
	n := d.U32()
	if n > 0 && d.Err() == nil {
		ds.GameIDs = make([]state.GameID, n)
		for i := range ds.GameIDs {
			ds.GameIDs[i] = state.GameID(d.U32())
		}
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("decoding detail fetcher state: %w", err)
	}
	return ds, nil
}

// RunDetails consumes new game ids and guarantees each queued session
// eventually has its host address and mod list populated exactly once.
// Processing is FIFO — sessions observed earlier must become chainable
// before their successors appear — and paced to at most one upstream
// call per second. Failed fetches stay at the front and retry forever.
func RunDetails(
	ctx context.Context,
	client *api.Client,
	detailLock *DetailLock,
	stateLock *state.Lock,
	in <-chan state.GameID,
) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)

	for iteration := 0; ; iteration++ {
		detailLock.RLock()
		queueLen := len(detailLock.S.GameIDs)
		detailLock.RUnlock()

		if queueLen == 0 {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-in:
				if !ok {
					log.Printf("[fetcher_get_game_details] exit")
					return
				}
				detailLock.Lock()
				detailLock.S.GameIDs = append(detailLock.S.GameIDs, id)
				detailLock.Unlock()
			}
			continue
		}

	drain:
		for {
			select {
			case id, ok := <-in:
				if !ok {
					break drain
				}
				detailLock.Lock()
				detailLock.S.GameIDs = append(detailLock.S.GameIDs, id)
				detailLock.Unlock()
			default:
				break drain
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}
		fetchOne(client, detailLock, stateLock)

		if queueLen > queueLengthWarnThreshold && iteration%200 == 1 {
			log.Printf("[fetcher_get_game_details] [warn] number of game ids to fetch is too big: %d", queueLen)
		}
	}
}

// fetchOne processes the front of the queue. On success (404 included)
// the session is populated and the id popped; on error the id stays at
// the front for the next iteration.
func fetchOne(client *api.Client, detailLock *DetailLock, stateLock *state.Lock) {
	detailLock.RLock()
	gameID := detailLock.S.GameIDs[0]
	queueLen := len(detailLock.S.GameIDs)
	detailLock.RUnlock()

	log.Printf("[fetcher_get_game_details] fetch game id %8d (queue length %d)", gameID, queueLen)
	details, err := client.GetGameDetails(uint32(gameID))
	if err != nil {
		log.Printf("[fetcher_get_game_details] [error] %v", err)
		return
	}

	hostAddress := unknownSentinel
	mods := []api.Mod{{Name: unknownSentinel, Version: unknownSentinel}}
	if details != nil {
		if details.HostAddress != nil {
			hostAddress = *details.HostAddress
		}
		mods = details.Mods
	}

	stateLock.Lock()
	detailLock.Lock()
	defer detailLock.Unlock()
	defer stateLock.Unlock()

	s := stateLock.S
	g := s.GetGame(gameID)
	g.HostAddress = s.HostAddresses.Add(hostAddress)
	g.Mods = make([]state.Mod, 0, len(mods))
	for _, m := range mods {
		g.Mods = append(g.Mods, state.Mod{
			Name:    s.ModNames.Add(m.Name),
			Version: s.Versions.Add(m.Version),
		})
	}

	detailLock.S.GameIDs = detailLock.S.GameIDs[1:]
}
