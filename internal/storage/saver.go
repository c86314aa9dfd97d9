package storage

import (
	"log"
	"os"
	"time"

	"github.com/factorio-stats/backend/internal/fetcher"
	"github.com/factorio-stats/backend/internal/state"
	"github.com/factorio-stats/backend/internal/updater"
)

// SaverEvent asks the saver thread to checkpoint.
type SaverEvent int

const (
	// SaveRegular is the periodic checkpoint.
	SaveRegular SaverEvent = iota
	// SaveShutdown checkpoints and then exits the process with code 77,
	// which the supervisor treats as a clean save-then-stop.
	SaveShutdown
)

// ShutdownExitCode signals "saved and stopped on request".
const ShutdownExitCode = 77

func (ev SaverEvent) String() string {
	if ev == SaveShutdown {
		return "shutdown"
	}
	return "regular"
}

// RunSaver serializes all three state regions as one unit for each
// received event. It takes the three read locks in the canonical order,
// so the checkpoint always captures a consistent post-updater snapshot.
func RunSaver(
	c *Client,
	updaterLock *updater.Lock,
	stateLock *state.Lock,
	detailLock *fetcher.DetailLock,
	events <-chan SaverEvent,
) {
	for ev := range events {
		log.Printf("[saver] start (by event %s)", ev)

		updaterLock.RLock()
		stateLock.RLock()
		detailLock.RLock()
		ws := &WholeState{Updater: updaterLock.S, State: stateLock.S, Details: detailLock.S}
		err := SaveState(c, ws)
		detailLock.RUnlock()
		stateLock.RUnlock()
		updaterLock.RUnlock()

		if err != nil {
			log.Printf("[saver] [error] %v", err)
			if ev == SaveShutdown {
				os.Exit(1)
			}
			continue
		}
		log.Printf("[saver] done")
		if ev == SaveShutdown {
			log.Printf("[saver] exit (finished)")
			os.Exit(ShutdownExitCode)
		}
	}
	log.Printf("[saver] [error] exit")
}

// RunSaverNotifier emits a SaveRegular event on every tick.
func RunSaverNotifier(events chan<- SaverEvent, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		events <- SaveRegular
	}
}
