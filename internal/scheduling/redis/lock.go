package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-scheduling/internal/logger"
	"ms-scheduling/internal/scheduling"
)

const (
	defaultLockTTL   = 5 * time.Second
	defaultLockWait  = 2 * time.Second
	defaultLockRetry = 25 * time.Millisecond
)

// unlockScript deletes the key only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLock is an advisory per-session mutex held in Redis for the length of one unit of work.
type SessionLock struct {
	Client *redis.Client
	Logger *logger.Logger
	// TTL bounds how long a crashed holder can block a session.
	TTL time.Duration
	// Wait is how long Lock keeps retrying before giving up with scheduling.ErrLockBusy.
	Wait       time.Duration
	RetryEvery time.Duration
}

func NewSessionLock(client *redis.Client, ttl time.Duration, log *logger.Logger) *SessionLock {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionLock{
		Client:     client,
		Logger:     log,
		TTL:        ttl,
		Wait:       defaultLockWait,
		RetryEvery: defaultLockRetry,
	}
}

func lockKey(sessionID string) string {
	return "session_lock:" + sessionID
}

// TryLock makes a single attempt and reports whether the lock was taken for owner.
func (l *SessionLock) TryLock(ctx context.Context, sessionID, owner string) (bool, error) {
	return l.Client.SetNX(ctx, lockKey(sessionID), owner, l.TTL).Result()
}

// Unlock releases the lock if owner still holds it.
func (l *SessionLock) Unlock(ctx context.Context, sessionID, owner string) error {
	_, err := unlockScript.Run(ctx, l.Client, []string{lockKey(sessionID)}, owner).Result()
	if err == redis.Nil {
		return nil
	}
	return err
}

// IsLocked checks the lock without taking it.
func (l *SessionLock) IsLocked(ctx context.Context, sessionID string) (bool, error) {
	n, err := l.Client.Exists(ctx, lockKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Lock implements scheduling.SessionLocker.
func (l *SessionLock) Lock(ctx context.Context, sessionID string) (func(), error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(l.Wait)

	for {
		ok, err := l.TryLock(ctx, sessionID, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to lock session %s: %w", sessionID, err)
		}
		if ok {
			return func() {
				// The caller's context may already be done; release with a fresh one.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := l.Unlock(ctx, sessionID, owner); err != nil {
					l.Logger.Warn("LOCK", fmt.Sprintf("Failed to release lock on session %s: %v", sessionID, err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: session %s", scheduling.ErrLockBusy, sessionID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.RetryEvery):
		}
	}
}

var _ scheduling.SessionLocker = (*SessionLock)(nil)
