package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/kbsync/internal/core"
	"github.com/markdave123-py/kbsync/internal/metrics"
)

// LimitedEmbedder splits requests into provider-sized batches and paces them
// with a token bucket so a large document cannot exhaust the provider quota.
type LimitedEmbedder struct {
	next      core.EmbeddingProvider
	limiter   *rate.Limiter
	batchSize int
	service   string
}

// NewLimitedEmbedder wraps next. rps <= 0 disables pacing; batchSize <= 0
// sends everything in one call.
func NewLimitedEmbedder(next core.EmbeddingProvider, service string, rps float64, batchSize int) (*LimitedEmbedder, error) {
	if next == nil {
		return nil, errors.New("embedding provider is required")
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &LimitedEmbedder{
		next:      next,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: batchSize,
		service:   service,
	}, nil
}

func (l *LimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := l.batchSize
	if size <= 0 {
		size = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		begin := time.Now()
		vecs, err := l.next.EmbedTexts(ctx, texts[start:end])
		metrics.CaptureDependency(l.service, time.Since(begin))
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%s: got %d embeddings for %d texts", l.service, len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("%s: empty embedding for text %d", l.service, start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*LimitedEmbedder)(nil)
