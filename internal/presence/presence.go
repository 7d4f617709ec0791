// Package presence mirrors the connection registry into redis so sidecar
// services can ask who is online without talking to the relay. Informational
// only: routing decisions always come from the in-memory registry.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "presence:"

// Announcer keeps a TTL key per online user, refreshed while at least one of
// their connections is alive and deleted when the last one closes.
type Announcer struct {
	rdb *redis.Client
	log zerolog.Logger
	ttl time.Duration

	mu     sync.Mutex
	online map[string]struct{}
}

func NewAnnouncer(rdb *redis.Client, log zerolog.Logger, ttl time.Duration) *Announcer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Announcer{
		rdb:    rdb,
		log:    log.With().Str("component", "presence").Logger(),
		ttl:    ttl,
		online: make(map[string]struct{}),
	}
}

// Announce marks the user online. Redis being down only degrades visibility
// for other services, never connectivity, so failures are logged and
// swallowed.
func (a *Announcer) Announce(ctx context.Context, userID string) {
	a.mu.Lock()
	a.online[userID] = struct{}{}
	a.mu.Unlock()

	if err := a.rdb.Set(ctx, keyPrefix+userID, time.Now().Unix(), a.ttl).Err(); err != nil {
		a.log.Warn().Err(err).Str("user", userID).Msg("presence announce failed")
	}
}

// Retract removes the user's presence key. Called when their last connection
// closes.
func (a *Announcer) Retract(ctx context.Context, userID string) {
	a.mu.Lock()
	delete(a.online, userID)
	a.mu.Unlock()

	if err := a.rdb.Del(ctx, keyPrefix+userID).Err(); err != nil {
		a.log.Warn().Err(err).Str("user", userID).Msg("presence retract failed")
	}
}

// Online reports whether the presence key for the user exists in redis.
func (a *Announcer) Online(ctx context.Context, userID string) (bool, error) {
	n, err := a.rdb.Exists(ctx, keyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Run refreshes the keys of every tracked user at half the TTL until ctx is
// done, so a relay crash expires its presence instead of leaking it.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			ids := make([]string, 0, len(a.online))
			for id := range a.online {
				ids = append(ids, id)
			}
			a.mu.Unlock()

			for _, id := range ids {
				if err := a.rdb.Expire(ctx, keyPrefix+id, a.ttl).Err(); err != nil {
					a.log.Warn().Err(err).Str("user", id).Msg("presence refresh failed")
				}
			}
		}
	}
}
