// Package lock implements the Distributed Lock Service: named-lock
// acquire/release with TTL over a shared Postgres table, generalizing
// the worker-lease row-claiming idiom (insert-on-claim, compare-and-
// delete release) from a fixed height range to an arbitrary key.
package lock

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"walletanalytics/internal/apierr"
)

type Result string

const (
	Acquired  Result = "acquired"
	HeldByOther Result = "held-by-other"
	Released  Result = "released"
	NotOwner  Result = "not-owner"
)

// DefaultTTL is the lock lifetime handlers use when they don't have a
// more specific value in mind. Overridable at startup via
// LOCK_DEFAULT_TTL (minutes); cmd/analyticsd sets it before any
// handler runs.
var DefaultTTL = 10 * time.Minute

type Service struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// TryAcquire is atomic: two callers racing yield exactly one winner.
// A lock past its expiry is treated as free and may be re-claimed by
// a new holder in the same statement.
func (s *Service) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (Result, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var returnedHolder string
	err := s.db.QueryRow(ctx, `
		INSERT INTO app.distributed_locks (key, holder_id, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (key) DO UPDATE
			SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
			WHERE app.distributed_locks.expires_at < NOW()
		RETURNING holder_id`,
		key, holderID, ttl.String(),
	).Scan(&returnedHolder)

	if err == pgx.ErrNoRows {
		// ON CONFLICT's WHERE clause excluded the row: someone else
		// already holds it and hasn't expired.
		return HeldByOther, nil
	}
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "acquire lock", err)
	}
	if returnedHolder != holderID {
		return HeldByOther, nil
	}
	return Acquired, nil
}

// Release only succeeds for the current holder (compare-and-delete).
func (s *Service) Release(ctx context.Context, key, holderID string) (Result, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM app.distributed_locks WHERE key = $1 AND holder_id = $2`,
		key, holderID,
	)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInternal, "release lock", err)
	}
	if tag.RowsAffected() == 0 {
		return NotOwner, nil
	}
	return Released, nil
}

// IsHeld reports whether key is currently held by anyone (unexpired).
func (s *Service) IsHeld(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM app.distributed_locks WHERE key = $1 AND expires_at >= NOW())`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, apierr.Wrap(apierr.KindInternal, "check lock", err)
	}
	return exists, nil
}

// WaitFor polls IsHeld with jittered backoff until the lock is free or
// ctx/timeout expires. Used by the similarity handler to wait on a
// wallet's sync completion without blocking inside the lock service
// itself (the service never blocks callers — waiting is a client concern).
func (s *Service) WaitFor(ctx context.Context, key string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	backoff := 250 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		held, err := s.IsHeld(ctx, key)
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
		if time.Now().After(deadline) {
			return apierr.New(apierr.KindTimeout, "timed out waiting for lock "+key)
		}

		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

const LockKeyPrefixWalletSync = "lock:wallet:sync:"

func WalletSyncKey(address string) string {
	return LockKeyPrefixWalletSync + address
}

func SimilarityKey(reqID string) string {
	return "lock:similarity:" + reqID
}
