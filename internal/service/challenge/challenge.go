// Package challenge stores short-lived single-use enrollment codes keyed
// by username. The store is injected rather than held as hidden process
// state so it can be swapped for a durable backend.
package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sigchat/internal/service/redis"
	apperrors "sigchat/pkg/errors"
)

// Store issues and consumes provisional enrollment credentials. Consume
// removes the code regardless of whether the comparison succeeds, so a
// code survives at most one attempt.
type Store interface {
	Issue(ctx context.Context, username string, ttl time.Duration) (string, error)
	Consume(ctx context.Context, username, code string) error
}

// NewCode returns a six-digit numeric code.
func NewCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return fmt.Sprintf("%06d", n%1000000), nil
}

func codesMatch(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RedisStore keeps codes in Redis with a TTL; GETDEL gives single-use
// semantics across processes.
type RedisStore struct {
	svc *redis.RedisService
}

func NewRedisStore(svc *redis.RedisService) *RedisStore {
	return &RedisStore{svc: svc}
}

func key(username string) string {
	return "enroll:" + username
}

func (s *RedisStore) Issue(ctx context.Context, username string, ttl time.Duration) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	if err := s.svc.Set(ctx, key(username), code, ttl); err != nil {
		return "", err
	}
	return code, nil
}

func (s *RedisStore) Consume(ctx context.Context, username, code string) error {
	stored, err := s.svc.GetDel(ctx, key(username))
	if err == goredis.Nil {
		return apperrors.Unauthorized("enrollment code expired or not issued")
	}
	if err != nil {
		return err
	}
	if !codesMatch(stored, code) {
		return apperrors.Unauthorized("enrollment code mismatch")
	}
	return nil
}

type memoryEntry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is the in-process variant used by tests and single-node
// development runs.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Issue(ctx context.Context, username string, ttl time.Duration) (string, error) {
	code, err := NewCode()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.codes[username] = memoryEntry{code: code, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return code, nil
}

func (s *MemoryStore) Consume(ctx context.Context, username, code string) error {
	s.mu.Lock()
	entry, ok := s.codes[username]
	delete(s.codes, username)
	s.mu.Unlock()

	if !ok || s.now().After(entry.expiresAt) {
		return apperrors.Unauthorized("enrollment code expired or not issued")
	}
	if !codesMatch(entry.code, code) {
		return apperrors.Unauthorized("enrollment code mismatch")
	}
	return nil
}
