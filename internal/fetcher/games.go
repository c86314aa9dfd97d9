package fetcher

import (
	"context"
	"log"
	"time"

	"github.com/factorio-stats/backend/internal/api"
	"github.com/factorio-stats/backend/internal/state"
)

const fetchInterval = time.Minute

// RunGames polls the directory once per wall-clock minute and pushes
// cleaned snapshots onto the queue. It blocks until ctx is cancelled.
//
// Polls align to minute boundaries so that snapshot timestamps are
// exact TimeMinutes values; the loop warns when scheduling drifts.
func RunGames(ctx context.Context, client *api.Client, out *SnapshotQueue, skipFirstSleep bool) {
	var lastFetch time.Time
	for first := true; ; first = false {
		if !(first && skipFirstSleep) {
			if !sleepToMinuteBoundary(ctx, first) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}

		now := time.Now()
		if !lastFetch.IsZero() {
			between := now.Sub(lastFetch)
			relativeError := between.Seconds()/fetchInterval.Seconds() - 1.0
			if relativeError < 0 {
				relativeError = -relativeError
			}
			if relativeError > 0.1 {
				log.Printf("[fetcher_get_games] [warn] duration between fetches differs from 60 seconds, observed %v", between)
			}
		}
		lastFetch = now

		responseTime := state.NowMinutes()
		log.Printf("[fetcher_get_games] fetch at secs=%d, minute=%d", now.Unix(), responseTime)

		games, err := client.GetGames()
		if err != nil {
			// the retry budget is already spent; skip this minute
			log.Printf("[fetcher_get_games] [error] %v", err)
			continue
		}
		out.Push(Snapshot{Games: games, Time: responseTime})
	}
}

// sleepToMinuteBoundary sleeps until the next wall-clock minute. It
// returns false when ctx is cancelled first.
func sleepToMinuteBoundary(ctx context.Context, first bool) bool {
	now := time.Now()
	next := now.Truncate(time.Minute).Add(time.Minute)
	gap := next.Sub(now)
	if !first && gap*2 < fetchInterval {
		log.Printf("[fetcher_get_games] [warn] less than half a minute until the next boundary")
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(gap):
		return true
	}
}
