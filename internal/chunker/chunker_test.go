package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

func TestSplitTable(t *testing.T) {
	tests := []struct {
		name string
		text string
		cfg  Config
		want []string
	}{
		{
			name: "one segment per chunk",
			text: "a\nb\nc",
			cfg:  Config{ChunkSize: 3, Overlap: 0, Separator: "\n"},
			want: []string{"a", "b", "c"},
		},
		{
			name: "segments packed until full",
			text: "ab\ncd\nef",
			cfg:  Config{ChunkSize: 6, Overlap: 0, Separator: "\n"},
			want: []string{"ab\ncd", "ef"},
		},
		{
			name: "short text single chunk",
			text: "hello world",
			cfg:  Config{ChunkSize: 100, Overlap: 10, Separator: "\n"},
			want: []string{"hello world"},
		},
		{
			name: "text of exactly chunk size",
			text: "abc",
			cfg:  Config{ChunkSize: 3, Overlap: 0, Separator: ""},
			want: []string{"abc"},
		},
		{
			name: "overlap carried between chunks",
			text: "alpha beta gamma",
			cfg:  Config{ChunkSize: 10, Overlap: 3, Separator: " "},
			want: []string{"alpha", "phabeta", "etagamma"},
		},
		{
			name: "long segment sliding window",
			text: "abcdefghijklmnopqrstuvwxyz",
			cfg:  Config{ChunkSize: 10, Overlap: 4, Separator: ""},
			want: []string{"abcdefghij", "ghijklmnop", "mnopqrstuv", "stuvwxyz"},
		},
		{
			name: "whitespace only chunks dropped",
			text: "hello\n   \nworld",
			cfg:  Config{ChunkSize: 5, Overlap: 0, Separator: "\n"},
			want: []string{"hello", "world"},
		},
		{
			name: "multibyte runes never cut mid character",
			text: "héllo wörld",
			cfg:  Config{ChunkSize: 4, Overlap: 0, Separator: " "},
			want: []string{"héll", "o", "wörl", "d"},
		},
		{
			name: "empty text",
			text: "",
			cfg:  Config{ChunkSize: 10, Overlap: 2, Separator: "\n"},
			want: []string{},
		},
		{
			name: "all whitespace text",
			text: "  \n\t \n ",
			cfg:  Config{ChunkSize: 10, Overlap: 2, Separator: "\n"},
			want: []string{},
		},
		{
			name: "multi rune separator",
			text: "first block\n\nsecond block",
			cfg:  Config{ChunkSize: 15, Overlap: 0, Separator: "\n\n"},
			want: []string{"first block", "second block"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.text, tt.cfg)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSplitRejectsBadConfig(t *testing.T) {
	bad := []Config{
		{ChunkSize: 0, Overlap: 0, Separator: "\n"},
		{ChunkSize: -5, Overlap: 0, Separator: "\n"},
		{ChunkSize: 10, Overlap: 10, Separator: "\n"},
		{ChunkSize: 10, Overlap: 15, Separator: "\n"},
		{ChunkSize: 10, Overlap: -1, Separator: "\n"},
	}
	for _, cfg := range bad {
		_, err := Split("some text", cfg)
		require.Error(t, err)
		require.ErrorIs(t, err, appErr.ErrConfiguration)
	}
}

func TestSplitChunkBound(t *testing.T) {
	texts := []string{
		"the quick brown fox jumps over the lazy dog",
		strings.Repeat("lorem ipsum dolor sit amet ", 40),
		strings.Repeat("x", 500),
		"para one\n\npara two that is quite a bit longer than the first one\n\npara three",
	}
	cfgs := []Config{
		{ChunkSize: 10, Overlap: 0, Separator: " "},
		{ChunkSize: 16, Overlap: 5, Separator: " "},
		{ChunkSize: 32, Overlap: 8, Separator: "\n\n"},
		{ChunkSize: 7, Overlap: 3, Separator: ""},
	}
	for _, text := range texts {
		for _, cfg := range cfgs {
			chunks, err := Split(text, cfg)
			require.NoError(t, err)
			for _, chunk := range chunks {
				require.LessOrEqual(t, len([]rune(chunk)), cfg.ChunkSize,
					"chunk %q exceeds size %d", chunk, cfg.ChunkSize)
				require.NotEmpty(t, strings.TrimSpace(chunk))
			}
		}
	}
}

func TestSplitCoverageWithoutOverlap(t *testing.T) {
	// With overlap disabled no character is duplicated, so the chunks
	// modulo whitespace must reproduce the input modulo whitespace.
	texts := []string{
		"the quick brown fox jumps over the lazy dog",
		"first\nsecond\nthird\nfourth line is longer\nfifth",
		strings.Repeat("abcdefg ", 25),
	}
	for _, text := range texts {
		chunks, err := Split(text, Config{ChunkSize: 12, Overlap: 0, Separator: " "})
		require.NoError(t, err)
		require.Equal(t, stripSpace(text), stripSpace(strings.Join(chunks, "")))
	}
}

func TestSplitWindowsShareOverlap(t *testing.T) {
	chunks, err := Split("abcdefghijklmnopqrstuvwxyz", Config{ChunkSize: 10, Overlap: 4, Separator: ""})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-4:]
		require.True(t, strings.HasPrefix(chunks[i], tail),
			"chunk %d %q does not continue from %q", i, chunks[i], tail)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("determinism matters for replayed ingestion ", 20)
	cfg := Config{ChunkSize: 48, Overlap: 12, Separator: " "}
	first, err := Split(text, cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Split(text, cfg)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}
