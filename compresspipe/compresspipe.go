// Package compresspipe wraps blob payloads with streaming zstd
// compression, a fast general-purpose codec suited to arbitrary file
// content.
package compresspipe

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// Pipeline streams data through zstd. A zero Pipeline is ready to use.
type Pipeline struct {
	// Level controls the compression/speed tradeoff. Zero uses the
	// library's default (SpeedDefault).
	Level zstd.EncoderLevel
}

// NewEncoder wraps w so writes to the returned writer land, compressed,
// on w. Concurrency is pinned to 1: the same plaintext always produces
// the same compressed bytes, which only matters for test determinism
// since blob addressing always hashes pre-compression plaintext.
func (p Pipeline) NewEncoder(w io.Writer) (*zstd.Encoder, error) {
	level := p.Level
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
}

// NewDecoder wraps r so reads from the returned reader yield decompressed
// bytes read from r.
func (p Pipeline) NewDecoder(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
}
