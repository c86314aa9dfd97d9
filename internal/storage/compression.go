package storage

import (
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Checkpoints live in two codecs: lz4 for the hot path (fast enough
// that startup stays cheap) and xz for long-term backups (slow, but
// bounds bucket cost). The file extension selects the codec.

// xzDictCap keeps the xz encoder's memory bounded; the level-9 preset
// needs more memory than small deployment dynos have.
const xzDictCap = 1 << 25 // 32 MiB, roughly preset level 8

// newDecoder wraps reader with the decompressor matching filename's
// extension.
func newDecoder(reader io.Reader, filename string) (io.Reader, error) {
	switch {
	case strings.HasSuffix(filename, ".xz"):
		r, err := xz.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return r, nil
	case strings.HasSuffix(filename, ".lz4"):
		return lz4.NewReader(reader), nil
	default:
		return nil, fmt.Errorf("unknown archive extension in %q", filename)
	}
}

// newEncoder wraps writer with the compressor matching filename's
// extension. The returned WriteCloser must be closed to flush the
// stream trailer.
func newEncoder(writer io.Writer, filename string) (io.WriteCloser, error) {
	switch {
	case strings.HasSuffix(filename, ".xz"):
		cfg := xz.WriterConfig{DictCap: xzDictCap}
		w, err := cfg.NewWriter(writer)
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return w, nil
	case strings.HasSuffix(filename, ".lz4"):
		w := lz4.NewWriter(writer)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown archive extension in %q", filename)
	}
}
