package repository

import (
	"context"
	"encoding/json"
	"time"

	"codemate/internal/common/cache"
	"codemate/internal/judge/model"
	appErr "codemate/pkg/errors"
)

const (
	verdictKeyPrefix  = "judge:verdict:"
	defaultVerdictTTL = 24 * time.Hour
)

// VerdictCache keeps finished verdicts in Redis so status polling does not
// hit the database for recently judged submissions.
type VerdictCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewVerdictCache(cacheClient cache.Cache) *VerdictCache {
	return NewVerdictCacheWithTTL(cacheClient, defaultVerdictTTL)
}

func NewVerdictCacheWithTTL(cacheClient cache.Cache, ttl time.Duration) *VerdictCache {
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	return &VerdictCache{cache: cacheClient, ttl: ttl}
}

func (c *VerdictCache) Put(ctx context.Context, submissionID string, verdict model.Verdict) error {
	data, err := json.Marshal(verdict)
	if err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	if err := c.cache.Set(ctx, verdictKey(submissionID), string(data), cache.JitterTTL(c.ttl)); err != nil {
		return appErr.Wrap(err, appErr.CacheSetFailed)
	}
	return nil
}

// Get returns the cached verdict. The second return value is false on a miss.
func (c *VerdictCache) Get(ctx context.Context, submissionID string) (model.Verdict, bool, error) {
	data, err := c.cache.Get(ctx, verdictKey(submissionID))
	if err != nil {
		return model.Verdict{}, false, appErr.Wrap(err, appErr.CacheError)
	}
	if data == "" {
		return model.Verdict{}, false, nil
	}
	var verdict model.Verdict
	if err := json.Unmarshal([]byte(data), &verdict); err != nil {
		// A corrupt entry behaves like a miss; the database copy is
		// authoritative.
		_ = c.cache.Del(ctx, verdictKey(submissionID))
		return model.Verdict{}, false, nil
	}
	return verdict, true, nil
}

func verdictKey(submissionID string) string {
	return verdictKeyPrefix + submissionID
}
