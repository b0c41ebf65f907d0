package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/surge/internal/config"
)

const keyPrepareActor = "surge:prepare:actor:%s"

// PrepareLimiter throttles batch preparation per actor.
type PrepareLimiter struct {
	bucket   *TokenBucket
	window   *WindowLimiter
	pipeline *config.PipelineConfigHolder
}

func NewPrepareLimiter(bucket *TokenBucket, window *WindowLimiter, pipeline *config.PipelineConfigHolder) *PrepareLimiter {
	return &PrepareLimiter{
		bucket:   bucket,
		window:   window,
		pipeline: pipeline,
	}
}

func (l *PrepareLimiter) Allow(ctx context.Context, actorID string) (*RateLimitResult, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return &RateLimitResult{Allowed: false}, errors.New("actor id is required")
	}
	cfg := l.pipeline.Get()
	key := fmt.Sprintf(keyPrepareActor, actorID)

	if l.bucket != nil {
		return l.bucket.Take(ctx, key, cfg.PrepareLimit, cfg.PrepareWindow)
	}
	return l.window.Allow(key, cfg.PrepareLimit, cfg.PrepareWindow), nil
}
