package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/ai"
	appErr "github.com/quarrylabs/quarry/internal/pkg/errors"
)

const (
	DefaultDimension  = 1536
	DefaultBatchSize  = 100
	DefaultBatchDelay = 100 * time.Millisecond

	TaskTypeDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeQuery    = "RETRIEVAL_QUERY"
)

type Config struct {
	Dimension  int
	BatchSize  int
	BatchDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dimension <= 0 {
		c.Dimension = DefaultDimension
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	return c
}

// Client partitions texts into provider-sized batches and paces the
// provider calls. It owns the whitespace policy: blank inputs never
// reach the provider, they become all-zero vectors of the configured
// dimension so output positions always line up with input positions.
type Client struct {
	embedder  ai.IEmbedder
	dimension int
	batchSize int
	limiter   *rate.Limiter
}

func NewClient(embedder ai.IEmbedder, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		embedder:  embedder,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(rate.Every(cfg.BatchDelay), 1),
	}
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) ModelName() string {
	if c.embedder == nil {
		return ""
	}
	return c.embedder.ModelName()
}

// EmbedBatch embeds every text and returns one vector per input in input
// order. A provider failure aborts the whole call; there is no partial
// result and no zero-vector substitution for failed inputs.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}
	if c.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", appErr.ErrConfiguration)
	}
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := make([]string, 0, end-start)
		positions := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			trimmed := strings.TrimSpace(texts[i])
			if trimmed == "" {
				out[i] = make([]float32, c.dimension)
				continue
			}
			batch = append(batch, trimmed)
			positions = append(positions, i)
		}
		if len(batch) == 0 {
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		vectors, err := c.embedder.EmbedBatch(ctx, batch, TaskTypeDocument)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", appErr.ErrEmbeddingFailure, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d inputs",
				appErr.ErrEmbeddingFailure, len(vectors), len(batch))
		}
		for j, vec := range vectors {
			if len(vec) != c.dimension {
				return nil, fmt.Errorf("%w: provider returned dimension %d, expected %d",
					appErr.ErrEmbeddingFailure, len(vec), c.dimension)
			}
			out[positions[j]] = vec
		}
		logutil.GetLogger(ctx).Debug("embedded batch",
			zap.Int("batch_size", len(batch)),
			zap.Int("progress", end),
			zap.Int("total", len(texts)),
		)
	}
	return out, nil
}

// EmbedQuery embeds a single search query. Blank queries are invalid
// rather than zero-substituted: a zero vector has no direction to rank
// against.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty query", appErr.ErrInvalid)
	}
	if c.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", appErr.ErrConfiguration)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vectors, err := c.embedder.EmbedBatch(ctx, []string{trimmed}, TaskTypeQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrEmbeddingFailure, err)
	}
	if len(vectors) != 1 || len(vectors[0]) != c.dimension {
		return nil, fmt.Errorf("%w: unexpected query embedding shape", appErr.ErrEmbeddingFailure)
	}
	return vectors[0], nil
}
