package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/model"
)

// Adapter fronts an ordered list of providers with failover. Each call
// tries providers in configured order, at most once each, under a
// per-provider timeout. Responses are cached so repeated claims about the
// same topic do not burn provider quota.
type Adapter struct {
	providers []Provider
	timeouts  map[string]time.Duration
	limiter   *Limiter
	cache     *gocache.Cache
	logger    *zap.Logger
}

// AdapterOptions configure an Adapter.
type AdapterOptions struct {
	// Timeouts holds the per-provider call timeout, keyed by provider name.
	// Missing entries fall back to DefaultTimeout.
	Timeouts       map[string]time.Duration
	DefaultTimeout time.Duration
	// RequestsPerSecond is the default per-provider rate limit.
	RequestsPerSecond float64
	Burst             int
	CacheTTL          time.Duration
	Logger            *zap.Logger
}

// NewAdapter creates a failover adapter over the given providers. Order
// matters: the first provider is primary, the rest are fallbacks.
func NewAdapter(providers []Provider, opts AdapterOptions) *Adapter {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	timeouts := make(map[string]time.Duration, len(providers))
	for _, p := range providers {
		timeouts[p.Name()] = opts.DefaultTimeout
	}
	for name, d := range opts.Timeouts {
		if d > 0 {
			timeouts[name] = d
		}
	}

	return &Adapter{
		providers: providers,
		timeouts:  timeouts,
		limiter:   NewLimiter(opts.RequestsPerSecond, opts.Burst),
		cache:     gocache.New(opts.CacheTTL, 2*opts.CacheTTL),
		logger:    opts.Logger,
	}
}

// SetProviderRate overrides the request rate for one provider. Rates at
// or below zero keep the adapter default.
func (a *Adapter) SetProviderRate(provider string, requestsPerSecond float64, burst int) {
	if requestsPerSecond > 0 {
		a.limiter.SetProviderRate(provider, requestsPerSecond, burst)
	}
}

// Search runs one query with failover. Provider errors are swallowed into
// the provenance record; the returned error is non-nil only when every
// provider failed, in which case it is model.ErrNoProviders.
func (a *Adapter) Search(ctx context.Context, query string, c Constraints) (*Response, error) {
	key := cacheKey(query, c.MaxResults)
	if !c.SkipCache {
		if cached, found := a.cache.Get(key); found {
			resp := cached.(*Response)
			return resp, nil
		}
	}

	var attempts []Attempt
	for i, p := range a.providers {
		results, err := a.searchOne(ctx, p, query, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			perr := &model.ProviderError{Provider: p.Name(), Err: err}
			a.logger.Warn("provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err))
			attempts = append(attempts, Attempt{Provider: p.Name(), Err: perr.Error()})
			continue
		}

		resp := &Response{
			Results:  results,
			Provider: p.Name(),
			Fallback: i > 0,
			Attempts: attempts,
		}
		a.cache.Set(key, resp, gocache.DefaultExpiration)
		return resp, nil
	}

	return &Response{Attempts: attempts}, model.ErrNoProviders
}

func (a *Adapter) searchOne(ctx context.Context, p Provider, query string, c Constraints) ([]Result, error) {
	if err := a.limiter.Wait(ctx, p.Name()); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeouts[p.Name()])
	defer cancel()

	return p.Search(callCtx, query, c)
}

func cacheKey(query string, maxResults int) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0, byte(maxResults)})
	return hex.EncodeToString(h.Sum(nil))
}
