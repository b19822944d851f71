package chunker

import (
	"fmt"
	"strings"

	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

type Config struct {
	ChunkSize int    `json:"chunk_size"`
	Overlap   int    `json:"overlap"`
	Separator string `json:"separator"`
}

func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", appErr.ErrConfiguration, c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: overlap must not be negative, got %d", appErr.ErrConfiguration, c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk_size %d", appErr.ErrConfiguration, c.Overlap, c.ChunkSize)
	}
	return nil
}

// Split cuts text into chunks of at most ChunkSize runes. Text is first
// split on Separator (the separator is re-appended to each piece so the
// pieces still concatenate back to the source), then pieces are packed
// into a running buffer that is flushed whenever the next piece would not
// fit. A piece that alone exceeds ChunkSize goes through a sliding window
// of width ChunkSize and stride ChunkSize-Overlap; the last window stays
// in the buffer so following pieces can pack behind it. With Overlap > 0
// each flushed buffer is seeded with the tail of the previous chunk.
//
// Chunks are trimmed and whitespace-only chunks are dropped, so all-blank
// input yields an empty result. Split is pure: same input, same output.
func Split(text string, cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stride := cfg.ChunkSize - cfg.Overlap
	chunks := make([]string, 0)
	var buf []rune
	var prev []rune

	emit := func(rs []rune) {
		trimmed := strings.TrimSpace(string(rs))
		if trimmed == "" {
			return
		}
		chunks = append(chunks, trimmed)
		prev = []rune(trimmed)
	}

	for _, seg := range splitSegments(text, cfg.Separator) {
		segRunes := []rune(seg)
		if len(segRunes) > cfg.ChunkSize {
			if len(buf) > 0 {
				emit(buf)
				buf = nil
			}
			windows := splitLongText(segRunes, cfg.ChunkSize, stride)
			for _, w := range windows[:len(windows)-1] {
				emit(w)
			}
			buf = append([]rune(nil), windows[len(windows)-1]...)
			continue
		}
		if len(buf)+len(segRunes) > cfg.ChunkSize {
			emit(buf)
			buf = seedBuffer(prev, segRunes, cfg)
			continue
		}
		buf = append(buf, segRunes...)
	}
	if len(buf) > 0 {
		emit(buf)
	}
	return chunks, nil
}

func splitSegments(text, separator string) []string {
	if separator == "" {
		return []string{text}
	}
	parts := strings.Split(text, separator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, part+separator)
	}
	return segments
}

// splitLongText windows an oversized segment. Every window is exactly
// size runes except the last, which takes whatever remains.
func splitLongText(rs []rune, size, stride int) [][]rune {
	var out [][]rune
	for start := 0; ; start += stride {
		end := start + size
		if end >= len(rs) {
			out = append(out, rs[start:])
			return out
		}
		out = append(out, rs[start:end])
	}
}

// seedBuffer starts a fresh buffer for seg, prefixed with up to Overlap
// trailing runes of the previous chunk. The carry is capped so the seeded
// buffer never exceeds ChunkSize; otherwise a following flush could emit
// an oversized chunk.
func seedBuffer(prev []rune, seg []rune, cfg Config) []rune {
	carry := cfg.Overlap
	if carry > len(prev) {
		carry = len(prev)
	}
	if max := cfg.ChunkSize - len(seg); carry > max {
		carry = max
	}
	if carry <= 0 {
		return append([]rune(nil), seg...)
	}
	out := make([]rune, 0, carry+len(seg))
	out = append(out, prev[len(prev)-carry:]...)
	return append(out, seg...)
}
