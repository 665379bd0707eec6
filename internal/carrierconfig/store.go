package carrierconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists the last-known VoNR emergency support flag per slot.
type Store interface {
	Load(ctx context.Context, slot int) (supported bool, known bool, err error)
	// Save reports whether the stored value changed.
	Save(ctx context.Context, slot int, supported bool) (bool, error)
}

const DefaultKeyPrefix = "domainselection:vonr_emergency:v1"

// setIfChanged writes ARGV[1] to KEYS[1] unless it already holds that value.
// Returns 1 when the key was written, 0 otherwise.
var setIfChanged = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps one key per slot, `prefix:slot`, holding "1" or "0". Keys never expire.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(slot int) string {
	return fmt.Sprintf("%s:%d", s.prefix, slot)
}

func (s *RedisStore) Load(ctx context.Context, slot int) (bool, bool, error) {
	if s == nil || s.client == nil {
		return false, false, nil
	}
	v, err := s.client.Get(ctx, s.key(slot)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("carrierconfig: load slot %d: %w", slot, err)
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("carrierconfig: slot %d holds %q: %w", slot, v, err)
	}
	return b, true, nil
}

func (s *RedisStore) Save(ctx context.Context, slot int, supported bool) (bool, error) {
	if s == nil || s.client == nil {
		return false, errors.New("carrierconfig: redis client is nil")
	}
	v := "0"
	if supported {
		v = "1"
	}
	n, err := setIfChanged.Run(ctx, s.client, []string{s.key(slot)}, v).Int()
	if err != nil {
		return false, fmt.Errorf("carrierconfig: save slot %d: %w", slot, err)
	}
	return n == 1, nil
}

// MemoryStore is an in-process Store for tests and single-node deployments without Redis.
type MemoryStore struct {
	mu     sync.Mutex
	values map[int]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[int]bool)}
}

func (s *MemoryStore) Load(_ context.Context, slot int) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[slot]
	return v, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, slot int, supported bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[slot]; ok && v == supported {
		return false, nil
	}
	s.values[slot] = supported
	return true, nil
}
