package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

const keyBuildLock = "surge:build:%s:%s"

// BuildGuard admits at most one in-flight packet build per
// (surge, household). With a redis locker the guard spans replicas.
type BuildGuard struct {
	locker *Locker
	ttl    time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewBuildGuard(locker *Locker, ttl time.Duration) *BuildGuard {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &BuildGuard{
		locker:   locker,
		ttl:      ttl,
		inflight: make(map[string]struct{}),
	}
}

// Acquire reports whether the caller may build. When ok is true the caller
// must call release once the build finishes.
func (g *BuildGuard) Acquire(ctx context.Context, surgeID, householdID snowflake.ID) (release func(), ok bool, err error) {
	key := fmt.Sprintf(keyBuildLock, surgeID, householdID)

	if g.locker != nil {
		token, acquired, err := g.locker.TryLock(ctx, key, g.ttl)
		if err != nil || !acquired {
			return func() {}, false, err
		}
		return func() {
			_ = g.locker.Release(context.WithoutCancel(ctx), key, token)
		}, true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return func() {}, false, nil
	}
	g.inflight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, true, nil
}
