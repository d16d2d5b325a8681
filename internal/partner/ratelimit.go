package partner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Rate-limit scopes for widget traffic.
const (
	ScopeIP      = "ip"
	ScopePartner = "partner"
)

// Limits bounds widget traffic per client IP and per partner over one-minute
// windows. Counters live in process memory unless a Redis client is given,
// in which case every replica shares them.
type Limits struct {
	perIP      *limiter.Limiter
	perPartner *limiter.Limiter
}

func NewLimits(ipLimit, partnerLimit int64, client *redis.Client) (*Limits, error) {
	ipStore, err := newStore(client, "payveil:rl:ip")
	if err != nil {
		return nil, err
	}
	partnerStore, err := newStore(client, "payveil:rl:partner")
	if err != nil {
		return nil, err
	}
	return &Limits{
		perIP:      limiter.New(ipStore, limiter.Rate{Period: time.Minute, Limit: ipLimit}),
		perPartner: limiter.New(partnerStore, limiter.Rate{Period: time.Minute, Limit: partnerLimit}),
	}, nil
}

func newStore(client *redis.Client, prefix string) (limiter.Store, error) {
	if client == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute}), nil
	}
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
	}
	return store, nil
}

// Take counts one request against scope/key.
func (l *Limits) Take(ctx context.Context, scope, key string) (limiter.Context, error) {
	switch scope {
	case ScopeIP:
		return l.perIP.Get(ctx, key)
	case ScopePartner:
		return l.perPartner.Get(ctx, key)
	}
	return limiter.Context{}, fmt.Errorf("unknown rate limit scope %q", scope)
}

// RetryAfter is the number of whole seconds until the window resets.
func RetryAfter(lc limiter.Context, now time.Time) int64 {
	secs := lc.Reset - now.Unix()
	if secs < 1 {
		return 1
	}
	return secs
}
