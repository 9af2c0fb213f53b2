package explain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// CacheRecorder observes report cache lookups.
type CacheRecorder interface {
	RecordCacheLookup(hit bool)
}

// Explainer builds prompts, reuses cached reports and calls the generator
// on a miss.
type Explainer struct {
	gen      Generator
	cache    domain.Cache
	ttl      time.Duration
	now      func() time.Time
	recorder CacheRecorder
}

// NewExplainer creates an Explainer. cache may be nil to disable reuse.
func NewExplainer(gen Generator, cache domain.Cache, ttl time.Duration) *Explainer {
	return &Explainer{
		gen:   gen,
		cache: cache,
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithRecorder sets the cache recorder and returns e.
func (e *Explainer) WithRecorder(r CacheRecorder) *Explainer {
	e.recorder = r
	return e
}

// Explain returns the forensic report for in. Identical prompts on the same
// day are served from the cache. Cache failures are logged and ignored.
func (e *Explainer) Explain(ctx context.Context, in PromptInput) (string, error) {
	prompt := BuildPrompt(in, e.now())
	key := cacheKey(prompt)

	if e.cache != nil {
		cached, err := e.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("report cache lookup failed", "error", err)
		}
		if e.recorder != nil {
			e.recorder.RecordCacheLookup(cached != nil)
		}
		if cached != nil {
			return string(cached), nil
		}
	}

	report, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, []byte(report), e.ttl); err != nil {
			slog.Warn("failed to cache report", "error", err)
		}
	}

	return report, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "report:" + hex.EncodeToString(sum[:])
}
