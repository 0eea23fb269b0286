// Package middleware wraps a model.Client with cross-cutting behavior, most
// notably an adaptive AIMD rate limiter that backs off on provider 429s and
// probes upward on sustained success.
package middleware

import (
	"context"
	"errors"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lemonflow/flowforge/internal/model"
)

// AdaptiveRateLimiter throttles outbound completion requests to a
// tokens-per-minute budget that shrinks on rate-limit errors and grows back
// slowly on success (additive-increase multiplicative-decrease).
type AdaptiveRateLimiter struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// NewAdaptiveRateLimiter builds a limiter with the given initial and maximum
// tokens-per-minute budget. initialTPM defaults to 60000 when non-positive.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 {
		maxTPM = initialTPM * 4
	}
	minTPM := initialTPM * 0.10
	if minTPM < 1 {
		minTPM = 1
	}
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recovery,
	}
}

// Middleware returns a function suitable for wrapping a model.Client.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		return &limitedClient{next: next, limiter: l}
	}
}

type limitedClient struct {
	next    model.Client
	limiter *AdaptiveRateLimiter
}

func (c *limitedClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	s, err := c.next.Stream(ctx, req)
	c.limiter.observe(err)
	return s, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req model.Request) error {
	n := estimateTokens(req)
	l.mu.Lock()
	lim := l.limiter
	l.mu.Unlock()
	return lim.WaitN(ctx, n)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, model.ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := math.Max(l.currentTPM/2, l.minTPM)
	l.replaceTPM(newTPM)
	if l.onBackoff != nil {
		l.onBackoff(newTPM)
	}
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := math.Min(l.currentTPM+l.recoveryRate, l.maxTPM)
	if newTPM == l.currentTPM {
		return
	}
	l.replaceTPM(newTPM)
	if l.onProbe != nil {
		l.onProbe(newTPM)
	}
}

// replaceTPM must be called with l.mu held.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens heuristically sizes a request's token cost from its text
// and tool-result content: roughly one token per three characters, plus a
// fixed buffer for the tool/schema overhead.
func estimateTokens(req model.Request) int {
	chars := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				chars += len(v.Text)
			case model.ToolResultPart:
				chars += len(v.Content)
			}
		}
	}
	return chars/3 + 500
}
