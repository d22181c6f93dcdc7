package guard

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore remembers when each client last passed the guard. Writes
// are last-write-wins; the cooldown is advisory.
type CooldownStore interface {
	// LastAccepted reports the last stamp for clientID, ok=false if none.
	LastAccepted(ctx context.Context, clientID string) (at time.Time, ok bool, err error)
	// Stamp records at for clientID. Entries may be forgotten after window.
	Stamp(ctx context.Context, clientID string, at time.Time, window time.Duration) error
}

// MemoryCooldownStore is a per-process store for single-replica deployments.
type MemoryCooldownStore struct {
	mu      sync.Mutex
	stamps  map[string]memoryStamp
	sweepAt time.Time
}

type memoryStamp struct {
	at        time.Time
	expiresAt time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{stamps: make(map[string]memoryStamp)}
}

func (s *MemoryCooldownStore) LastAccepted(_ context.Context, clientID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stamps[clientID]
	if !ok {
		return time.Time{}, false, nil
	}
	return st.at, true, nil
}

func (s *MemoryCooldownStore) Stamp(_ context.Context, clientID string, at time.Time, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamps[clientID] = memoryStamp{at: at, expiresAt: at.Add(window)}

	// sweep expired entries at most once per window
	if at.After(s.sweepAt) {
		for id, st := range s.stamps {
			if !st.expiresAt.After(at) {
				delete(s.stamps, id)
			}
		}
		s.sweepAt = at.Add(window)
	}
	return nil
}

// Len is the number of tracked clients.
func (s *MemoryCooldownStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stamps)
}

const cooldownKeyPrefix = "match:cooldown:"

// RedisCooldownStore shares cooldown stamps across replicas. Each stamp is
// a unix-millisecond string whose TTL equals the window.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) LastAccepted(ctx context.Context, clientID string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, cooldownKeyPrefix+clientID).Result()
	if stderrors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// unreadable stamp counts as absent
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisCooldownStore) Stamp(ctx context.Context, clientID string, at time.Time, window time.Duration) error {
	return s.client.Set(ctx, cooldownKeyPrefix+clientID, strconv.FormatInt(at.UnixMilli(), 10), window).Err()
}
