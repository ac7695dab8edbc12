package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces requests with a token bucket of limit requests
// per second and the given burst. Every client built from the returned
// middleware draws from the same bucket, so one model configuration shared
// by several plugins stays within one budget.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	bucket := rate.NewLimiter(limit, burst)
	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{CoreLLM: next, bucket: bucket}
	}
}

type rateLimitedLLM struct {
	CoreLLM
	bucket *rate.Limiter
}

func (r *rateLimitedLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	if err := r.bucket.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limit: %w", err)
	}
	return r.CoreLLM.DoRequest(ctx, req)
}
