package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/factorio-stats/backend/internal/fetcher"
	"github.com/factorio-stats/backend/internal/state"
	"github.com/factorio-stats/backend/internal/updater"
)

const (
	// PrimaryStatesDirectory is the bucket prefix for hourly checkpoints.
	PrimaryStatesDirectory = "states-hourly"
	// TemporaryStateFile stages a checkpoint locally before upload.
	TemporaryStateFile = "state.bin.lz4"
	contentType        = "application/octet-stream"

	// checkpoint file magic + format version
	checkpointMagic   = "FSS1"
	checkpointVersion = 1
)

// WholeState bundles the three persistent regions that checkpoint as a
// single unit.
type WholeState struct {
	Updater *updater.State
	State   *state.State
	Details *fetcher.DetailState
}

// EmptyWholeState returns a fresh WholeState for first boot.
func EmptyWholeState() *WholeState {
	return &WholeState{
		Updater: updater.NewState(),
		State:   state.NewState(),
		Details: fetcher.NewDetailState(),
	}
}

// SaveToFile writes the whole state to a local file, compressed per the
// filename extension, using a temp-file-then-rename so a crash mid-
// write never leaves a truncated checkpoint behind.
func SaveToFile(ws *WholeState, filename string) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	compressor, err := newEncoder(tmp, filename)
	if err != nil {
		tmp.Close()
		return err
	}
	e := state.NewEncoder(compressor)
	e.Raw([]byte(checkpointMagic))
	e.U8(checkpointVersion)
	ws.Updater.Encode(e)
	ws.State.Encode(e)
	ws.Details.Encode(e)
	if err := e.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("serializing state: %w", err)
	}
	if err := compressor.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finishing compressed stream: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filename); err != nil {
		return err
	}
	committed = true
	return nil
}

// LoadFromFile reads a whole state from a local checkpoint file and
// runs integrity repair and validation. A state that fails validation
// cannot be trusted, so the error is meant to be fatal.
func LoadFromFile(filename string) (*WholeState, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decompressor, err := newDecoder(f, filename)
	if err != nil {
		return nil, err
	}
	return decodeWholeState(state.NewDecoder(decompressor))
}

func decodeWholeState(d *state.Decoder) (*WholeState, error) {
	magic := make([]byte, len(checkpointMagic))
	d.Raw(magic)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("reading checkpoint header: %w", err)
	}
	if string(magic) != checkpointMagic {
		return nil, fmt.Errorf("not a checkpoint file (magic %q)", magic)
	}
	if version := d.U8(); version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}

	us, err := updater.DecodeUpdaterState(d)
	if err != nil {
		return nil, err
	}
	st, err := state.DecodeState(d)
	if err != nil {
		return nil, err
	}
	ds, err := fetcher.DecodeDetailState(d)
	if err != nil {
		return nil, err
	}

	st.FixCyclicPrevGameID()
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("loaded state is invalid: %w", err)
	}
	if err := us.Validate(st); err != nil {
		return nil, fmt.Errorf("loaded state is invalid: %w", err)
	}
	return &WholeState{Updater: us, State: st, Details: ds}, nil
}

// KeyToPath maps an hour key to its bucket path.
func KeyToPath(key uint64) string {
	return fmt.Sprintf("%s/%d.bin.lz4", PrimaryStatesDirectory, key)
}

// PathToKey extracts the hour key from a bucket path like
// "states-hourly/12345.bin.lz4".
func PathToKey(path string) (uint64, error) {
	name := strings.TrimPrefix(path, PrimaryStatesDirectory+"/")
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return 0, fmt.Errorf("no extension in checkpoint path %q", path)
	}
	return strconv.ParseUint(name[:dot], 10, 64)
}

// StatePaths lists every checkpoint in the bucket.
func StatePaths(c *Client) ([]string, error) {
	return c.List(PrimaryStatesDirectory)
}

// LastStatePath returns the most recent checkpoint path, or "" when the
// bucket is empty. Keys are zero-padding-free unix hours, so the
// numerically largest key wins rather than the lexicographically last
// path.
func LastStatePath(c *Client) (string, error) {
	paths, err := StatePaths(c)
	if err != nil {
		return "", err
	}
	best := ""
	var bestKey uint64
	for _, path := range paths {
		key, err := PathToKey(path)
		if err != nil {
			continue
		}
		if best == "" || key > bestKey {
			best, bestKey = path, key
		}
	}
	return best, nil
}

// FetchState downloads and decodes the latest checkpoint.
func FetchState(c *Client) (*WholeState, error) {
	path, err := LastStatePath(c)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("no checkpoint found under %s/", PrimaryStatesDirectory)
	}
	return FetchStateFrom(c, path)
}

// FetchStateFrom downloads and decodes a specific checkpoint.
func FetchStateFrom(c *Client, path string) (*WholeState, error) {
	body, err := c.Download(path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	decompressor, err := newDecoder(body, path)
	if err != nil {
		return nil, err
	}
	ws, err := decodeWholeState(state.NewDecoder(decompressor))
	if err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return ws, nil
}

// SaveState serializes the whole state locally and uploads it under the
// current hour's key.
func SaveState(c *Client, ws *WholeState) error {
	if err := SaveToFile(ws, TemporaryStateFile); err != nil {
		return err
	}
	key := uint64(time.Now().Unix()) / 3600
	path := KeyToPath(key)
	log.Printf("[saver] start uploading state with path `%s`", path)
	return c.Upload(path, TemporaryStateFile, contentType)
}
