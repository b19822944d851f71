package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// QueryCache fronts Client.EmbedQuery with an in-process expirable LRU.
// Search traffic repeats queries far more than ingestion repeats chunks,
// so only the query side is cached.
type QueryCache struct {
	client *Client
	cache  *expirable.LRU[string, []float32]
}

func NewQueryCache(client *Client, size int, ttl time.Duration) *QueryCache {
	qc := &QueryCache{client: client}
	if size > 0 && ttl > 0 {
		qc.cache = expirable.NewLRU[string, []float32](size, nil, ttl)
	}
	return qc
}

func (q *QueryCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if q.cache == nil {
		return q.client.EmbedQuery(ctx, text)
	}
	key := buildCacheKey(q.client.ModelName(), TaskTypeQuery, strings.TrimSpace(text))
	if cached, ok := q.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("query embedding cache hit",
			zap.String("model", q.client.ModelName()))
		return cloneVector(cached), nil
	}
	vec, err := q.client.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	q.cache.Add(key, cloneVector(vec))
	return vec, nil
}

func buildCacheKey(modelName, taskType, text string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	return "embed:" + modelName + ":" + taskType + ":" + hex.EncodeToString(hash[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
