package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 10 * time.Second
)

// RetryMiddleware repeats requests that fail with a transient error, up to
// maxRetries times, waiting an exponentially growing and jittered delay
// between attempts. It only covers transport failures; a completion that
// is not valid JSON is requested again by Client.GenerateJSON.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{CoreLLM: next, maxRetries: maxRetries, baseDelay: baseDelay, maxDelay: maxDelay}
	}
}

type retryLLM struct {
	CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func (r *retryLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	attempts := 0
	for {
		attempts++
		resp, err := r.CoreLLM.DoRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		if attempts > r.maxRetries || !shouldRetry(ctx, err) {
			return Response{}, fmt.Errorf("request failed after %d attempts: %w", attempts, err)
		}

		timer := time.NewTimer(r.backoff(attempts - 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// shouldRetry treats unclassified errors as transient. An open circuit
// and a finished context are final.
func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}
	return true
}

// backoff returns baseDelay*2^retry with ±25% jitter, capped at maxDelay.
func (r *retryLLM) backoff(retry int) time.Duration {
	retry = max(0, min(retry, 30))
	delay := float64(r.baseDelay) * float64(uint64(1)<<retry)
	delay *= 0.75 + rand.Float64()/2 // #nosec G404 -- jitter only
	return min(time.Duration(delay), r.maxDelay)
}
