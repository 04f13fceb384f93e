package hostfunc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   256,
		MaxValueSize: 64 << 10,
		MaxEntries:   1000,
	}
}

// KV is an in-memory key-value store. Values are any JSON-encodable value;
// the value size limit applies to the encoded form.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	return &KV{cfg: cfg, data: make(map[string]any)}
}

// Load returns the value stored under key.
func (s *KV) Load(key string) (any, bool) {
	s.mu.RLock()
	val, ok := s.data[key]
	s.mu.RUnlock()
	return val, ok
}

// Store sets key to val, enforcing the configured limits.
func (s *KV) Store(key string, val any) error {
	if key == "" {
		return errors.New("key required")
	}
	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return fmt.Errorf("%w: key", ErrTooLarge)
	}
	if s.cfg.MaxValueSize > 0 {
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("value not encodable: %w", err)
		}
		if len(encoded) > s.cfg.MaxValueSize {
			return fmt.Errorf("%w: value", ErrTooLarge)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; !exists && s.cfg.MaxEntries > 0 && len(s.data) >= s.cfg.MaxEntries {
		return errors.New("too many entries")
	}
	s.data[key] = val
	return nil
}

// Remove deletes key. Missing keys are not an error.
func (s *KV) Remove(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// KeyList returns the stored keys in sorted order.
func (s *KV) KeyList() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	if val, exists := s.Load(key); exists {
		return val, nil
	}
	return args["default"], nil
}

func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	val, ok := args["value"]
	if !ok {
		return nil, errors.New("value required")
	}
	if err := s.Store(key, val); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	s.Remove(key)
	return "ok", nil
}

func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	return s.KeyList(), nil
}

// Register installs the store under the kv_* names.
func (s *KV) Register(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}
