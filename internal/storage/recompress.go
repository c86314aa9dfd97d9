package storage

import (
	"fmt"
	"io"
	"os"
)

// recompressFile re-encodes a checkpoint from one codec to another,
// selected by file extensions, streaming through without decoding the
// state itself.
func recompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	decompressor, err := newDecoder(in, src)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	compressor, err := newEncoder(out, dst)
	if err != nil {
		out.Close()
		return err
	}

	if _, err := io.Copy(compressor, decompressor); err != nil {
		out.Close()
		return fmt.Errorf("recompressing %s: %w", src, err)
	}
	if err := compressor.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
