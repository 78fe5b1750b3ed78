// Package lock serializes work on a single record. Lockers narrow the window
// in which two requests load the same version; the conditional store write
// remains the correctness guarantee.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
)

// Unlock releases a held lock. Safe to call once.
type Unlock func()

// numShards distributes record ids over independent locks to reduce contention
// without one mutex per record.
const numShards = 128

// Sharded is an in-process locker. Each shard is a one-slot semaphore so
// waiting honours the caller's context deadline.
type Sharded struct {
	shards [numShards]chan struct{}
}

func NewSharded() *Sharded {
	s := &Sharded{}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	return s
}

func (s *Sharded) Lock(ctx context.Context, recordID id.RecordID) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "lock aborted: context cancelled")
	}
	shard := s.shards[hashString(recordID.String())%numShards]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, dErrors.New(dErrors.CodeConflict, "record is being modified by another request")
	}
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// Redis is a distributed locker for multi-replica deployments.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
}

// NewRedis builds a Redis locker. ttl bounds how long a crashed holder can
// block a record.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{client: redislock.New(rdb), ttl: ttl, backoff: 25 * time.Millisecond}
}

// Lock retries until obtained or ctx is done. A lock still held by someone
// else at the deadline is reported as a conflict; Redis errors as store
// unavailability.
func (r *Redis) Lock(ctx context.Context, recordID id.RecordID) (Unlock, error) {
	key := "crvs:lock:record:" + recordID.String()
	l, err := r.client.Obtain(ctx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.backoff),
	})
	switch {
	case err == nil:
	case errors.Is(err, redislock.ErrNotObtained), errors.Is(err, context.DeadlineExceeded):
		return nil, dErrors.New(dErrors.CodeConflict, "record is being modified by another request")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to obtain record lock")
	}
	return func() {
		// Release must run even when the request context is already done.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.Release(releaseCtx)
	}, nil
}
