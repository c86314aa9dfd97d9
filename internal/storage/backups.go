package storage

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
)

// Backup retention follows the pylog2rotate scheme
// (https://github.com/avian2/pylog2rotate): checkpoints are indexed by
// age (latest = 1) and thinned so that kept indexes roughly double —
// recent history is dense, old history exponentially sparse.

const pruneInterval = 20 * time.Minute

const (
	temporaryLZ4FileForRecompress = "state-recompress.bin.lz4"
	temporaryXZFileForRecompress  = "state-recompress.bin.xz"
)

// RunBackupPruner prunes checkpoints on a fixed timer, forever.
func RunBackupPruner(c *Client) {
	for {
		time.Sleep(pruneInterval)
		if err := PruneStateBackups(c); err != nil {
			log.Printf("[external_storage] [error] error when pruning state backups: %v", err)
		}
	}
}

// PruneStateBackups deletes every checkpoint outside the retention set.
func PruneStateBackups(c *Client) error {
	paths, err := StatePaths(c)
	if err != nil {
		return err
	}
	keyToPath := make(map[uint64]string, len(paths))
	for _, path := range paths {
		key, err := PathToKey(path)
		if err != nil {
			return fmt.Errorf("unparsable checkpoint path: %w", err)
		}
		keyToPath[key] = path
	}
	if len(keyToPath) <= 1 {
		return nil
	}

	var maxKey uint64
	for key := range keyToPath {
		if key > maxKey {
			maxKey = key
		}
	}
	indexes := make([]uint64, 0, len(keyToPath))
	for key := range keyToPath {
		indexes = append(indexes, 1+maxKey-key)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	indexesToDelete := FindIndexesToDelete(indexes)
	log.Printf("[external_storage] indexes to be deleted: %v  (all indexes: %v)", indexesToDelete, indexes)
	for _, index := range indexesToDelete {
		key := maxKey + 1 - index
		if err := c.Delete(keyToPath[key]); err != nil {
			return err
		}
	}
	return nil
}

// FindIndexesToDelete returns the subset of the given age indexes that
// retention does not keep. For each ideal index with no exact match,
// the nearest actually-present index is kept in its place.
func FindIndexesToDelete(indexes []uint64) []uint64 {
	for _, index := range indexes {
		if index == 0 {
			panic("backup index 0 is not valid")
		}
	}
	if len(indexes) <= 1 {
		return nil
	}

	n := indexes[0]
	for _, index := range indexes {
		if index > n {
			n = index
		}
	}

	keep := make(map[uint64]struct{})
	for _, ideal := range findIdealIndexesToKeep(n) {
		keep[findNearestValue(indexes, ideal)] = struct{}{}
	}

	var toDelete []uint64
	for _, index := range indexes {
		if _, kept := keep[index]; !kept {
			toDelete = append(toDelete, index)
		}
	}
	return toDelete
}

func findNearestValue(elements []uint64, value uint64) uint64 {
	absDiff := func(a, b uint64) uint64 {
		if a > b {
			return a - b
		}
		return b - a
	}
	result := elements[0]
	for _, element := range elements {
		if absDiff(element, value) < absDiff(result, value) {
			result = element
		}
	}
	return result
}

// findIdealIndexesToKeep computes the exponentially thinning keep-set
// for a maximum index n: from n, repeatedly subtract 2^(⌊log₂ n⌋ − 1)
// until reaching 1.
func findIdealIndexesToKeep(n uint64) []uint64 {
	if n < 1 {
		panic("backup index must be positive")
	}
	var backups []uint64
	for n > 1 {
		backups = append(backups, n)
		n -= uint64(1) << (uint(math.Log2(float64(n))) - 1)
	}
	backups = append(backups, 1)
	for i, j := 0, len(backups)-1; i < j; i, j = i+1, j-1 {
		backups[i], backups[j] = backups[j], backups[i]
	}
	return backups
}

// RecompressBackups converts every non-latest lz4 checkpoint to xz.
// The latest stays lz4 so a restart keeps its fast load path.
func RecompressBackups(c *Client) error {
	paths, err := StatePaths(c)
	if err != nil {
		return err
	}
	latest, err := LastStatePath(c)
	if err != nil {
		return err
	}

	for _, pathLZ4 := range paths {
		if !strings.HasSuffix(pathLZ4, ".lz4") || pathLZ4 == latest {
			continue
		}
		pathXZ := strings.TrimSuffix(pathLZ4, ".lz4") + ".xz"
		log.Printf("[external_storage] recompress backup: %s -> %s", pathLZ4, pathXZ)

		if err := c.DownloadToFile(pathLZ4, temporaryLZ4FileForRecompress); err != nil {
			return err
		}
		if err := recompressFile(temporaryLZ4FileForRecompress, temporaryXZFileForRecompress); err != nil {
			return err
		}
		if err := c.Upload(pathXZ, temporaryXZFileForRecompress, contentType); err != nil {
			return err
		}
		if err := c.Delete(pathLZ4); err != nil {
			return err
		}
	}
	return nil
}
