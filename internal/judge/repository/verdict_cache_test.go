package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codemate/internal/common/cache"
	"codemate/internal/judge/model"
)

func newTestVerdictCache(t *testing.T) (*VerdictCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return NewVerdictCacheWithTTL(c, time.Hour), mr
}

func TestVerdictCacheRoundTrip(t *testing.T) {
	vc, _ := newTestVerdictCache(t)
	ctx := context.Background()

	want := model.Verdict{
		Status:        model.StatusWrongAnswer,
		TotalTests:    5,
		ExecutedTests: 3,
		PassedTests:   2,
		TimeSeconds:   0.42,
		PeakMemoryKB:  10240,
		Cases: []model.CaseResult{
			{TestCaseID: 7, OrderIndex: 2, Passed: false, Status: model.StatusWrongAnswer},
		},
	}
	if err := vc.Put(ctx, "sub-1", want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := vc.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if got.Status != want.Status || got.PassedTests != want.PassedTests || len(got.Cases) != 1 {
		t.Fatalf("verdict mismatch: got %+v", got)
	}
}

func TestVerdictCacheMiss(t *testing.T) {
	vc, _ := newTestVerdictCache(t)

	_, ok, err := vc.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected a miss for an unknown submission")
	}
}

func TestVerdictCacheCorruptEntryBehavesAsMiss(t *testing.T) {
	vc, mr := newTestVerdictCache(t)
	ctx := context.Background()

	if err := mr.Set(verdictKey("sub-2"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, ok, err := vc.Get(ctx, "sub-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("corrupt entry should read as a miss")
	}
	if mr.Exists(verdictKey("sub-2")) {
		t.Fatalf("corrupt entry should be evicted")
	}
}
