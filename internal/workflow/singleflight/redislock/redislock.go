// Package redislock provides a Redis-backed single-flight guard for
// multi-process deployments of the Workflow Engine, where the in-process
// singleflight.Registry cannot see runs started on other instances.
// Acquire/Release mirror singleflight.Registry's contract over
// github.com/redis/go-redis/v9's SET NX and a compare-and-delete Lua
// script so a release never frees another process's lock.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/repassist-ai/orchestrator/internal/domain"
	"github.com/repassist-ai/orchestrator/internal/workflow/singleflight"
)

// releaseScript deletes the key only if it still holds the token this
// process wrote, so a lock that expired and was re-acquired by another
// process is never released out from under it.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Registry is a Redis-backed equivalent of singleflight.Registry. Each
// acquired lock carries a TTL so a crashed process's entries eventually
// expire even though Release was never called; MarkAbandonedRunsAborted
// at the persistence layer is the authoritative recovery path, this TTL
// is only a bound on how long a crash can block re-triggering.
type Registry struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	release   *redis.Script
}

// New builds a Registry. ttl bounds how long an acquired lock survives
// without an explicit Release (e.g. after a process crash); pass the
// overall run deadline plus margin.
func New(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Registry {
	if keyPrefix == "" {
		keyPrefix = "repassist:inflight:"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{client: client, keyPrefix: keyPrefix, ttl: ttl, release: redis.NewScript(releaseScript)}
}

// Acquire claims the distributed single-flight slot for conversationID.
// Returns singleflight.ErrInProgress if another process already holds
// it.
func (r *Registry) Acquire(ctx context.Context, conversationID domain.ConversationID, runID domain.RunID) error {
	token := tokenFor(runID)
	ok, err := r.client.SetNX(ctx, r.key(conversationID), token, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("redislock: acquire %q: %w", conversationID, err)
	}
	if !ok {
		return singleflight.ErrInProgress
	}
	return nil
}

// Release frees conversationID's slot if it is still held by runID.
func (r *Registry) Release(ctx context.Context, conversationID domain.ConversationID, runID domain.RunID) error {
	token := tokenFor(runID)
	_, err := r.release.Run(ctx, r.client, []string{r.key(conversationID)}, token).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redislock: release %q: %w", conversationID, err)
	}
	return nil
}

func (r *Registry) key(conversationID domain.ConversationID) string {
	return r.keyPrefix + string(conversationID)
}

// tokenFor derives a stable per-run lock token so Release can
// distinguish "our" lock from one re-acquired by another process after
// expiry. uuid.NewSHA1 over a fixed namespace keeps it deterministic for
// a given runID without reaching for Math.random-like nondeterminism.
func tokenFor(runID domain.RunID) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(runID)).String()
}
