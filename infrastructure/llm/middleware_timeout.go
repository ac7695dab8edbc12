package llm

import (
	"context"
	"time"
)

// TimeoutMiddleware gives every request its own deadline of timeout. A
// shorter deadline on the caller's context still wins.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{CoreLLM: next, timeout: timeout}
	}
}

type timeoutLLM struct {
	CoreLLM
	timeout time.Duration
}

func (t *timeoutLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.CoreLLM.DoRequest(ctx, req)
}
