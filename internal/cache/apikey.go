package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-redis/redis/v8"

	"github.com/g960059/osrelay/internal/model"
)

// InstanceResolver is the durable lookup the cache fronts.
type InstanceResolver interface {
	ResolveInstanceByAPIKey(ctx context.Context, apiKey string) (model.Instance, error)
}

// cachedInstance is the subset of an instance worth caching. Snapshot
// fields change on every state update and are not needed to authenticate.
type cachedInstance struct {
	InstanceID string `json:"instance_id"`
	TeamID     string `json:"team_id"`
	Name       string `json:"name"`
}

// APIKeyLookup resolves instance API keys through Redis before falling back
// to the store. Keys are stored hashed. Cache failures are logged and never
// fail a lookup; misses in the store are not cached. A key deleted from the
// store keeps resolving from the cache until its entry's TTL runs out.
type APIKeyLookup struct {
	store  InstanceResolver
	cache  Cache[cachedInstance]
	ttl    time.Duration
	logger log.Logger
}

func newAPIKeyLookup(store InstanceResolver, c Cache[cachedInstance], ttl time.Duration, logger log.Logger) *APIKeyLookup {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &APIKeyLookup{
		store:  store,
		cache:  c,
		ttl:    ttl,
		logger: log.With(logger, "component", "apikey-cache"),
	}
}

// NewRedisAPIKeyLookup wires an APIKeyLookup to a Redis client.
func NewRedisAPIKeyLookup(store InstanceResolver, client redis.UniversalClient, ttl time.Duration, logger log.Logger) *APIKeyLookup {
	c := NewRedisCache[cachedInstance](client, "osrelay:apikey", func(v cachedInstance) ([]byte, error) {
		return json.Marshal(v)
	}, func(raw []byte) (cachedInstance, error) {
		var v cachedInstance
		err := json.Unmarshal(raw, &v)
		return v, err
	})
	return newAPIKeyLookup(store, c, ttl, logger)
}

func (l *APIKeyLookup) ResolveInstanceByAPIKey(ctx context.Context, apiKey string) (model.Instance, error) {
	key := hashKey(apiKey)
	cached, err := l.cache.Get(ctx, key)
	switch {
	case err == nil:
		return model.Instance{InstanceID: cached.InstanceID, TeamID: cached.TeamID, Name: cached.Name, APIKey: apiKey}, nil
	case !errors.Is(err, ErrMiss):
		level.Warn(l.logger).Log("msg", "api key cache read failed", "err", err)
	}

	inst, err := l.store.ResolveInstanceByAPIKey(ctx, apiKey)
	if err != nil {
		return model.Instance{}, err
	}
	entry := cachedInstance{InstanceID: inst.InstanceID, TeamID: inst.TeamID, Name: inst.Name}
	if err := l.cache.Set(ctx, key, entry, l.ttl); err != nil {
		level.Warn(l.logger).Log("msg", "api key cache write failed", "instance_id", inst.InstanceID, "err", err)
	}
	return inst, nil
}

func hashKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
