// Package redisstore backs the persistent store handle with Redis hashes,
// one hash per (run, section).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/store"
)

// ErrAlreadyExists is returned by Create when runID already has a document.
var ErrAlreadyExists = errors.New("redisstore: run already exists")

// Factory is a Redis-backed store.Factory.
type Factory struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ store.Factory = (*Factory)(nil)

// New builds a Factory over an existing redis client.
func New(client redis.UniversalClient, keyPrefix string) *Factory {
	return &Factory{client: client, keyPrefix: keyPrefix}
}

func (f *Factory) runKey(runID string) string {
	return fmt.Sprintf("lightflow:%s:run:%s", f.keyPrefix, runID)
}

// Create implements store.Factory.
func (f *Factory) Create(ctx context.Context, runID string) (store.Handle, error) {
	marker := f.runKey(runID) + ":meta:__created__"
	ok, err := f.client.SetNX(ctx, marker, "1", 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}
	return &Handle{client: f.client, runKey: f.runKey(runID)}, nil
}

// Open implements store.Factory.
func (f *Factory) Open(ctx context.Context, runID string) (store.Handle, error) {
	marker := f.runKey(runID) + ":meta:__created__"
	n, err := f.client.Exists(ctx, marker).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	return &Handle{client: f.client, runKey: f.runKey(runID)}, nil
}

// Remove implements store.Factory.
func (f *Factory) Remove(ctx context.Context, runID string) error {
	prefix := f.runKey(runID) + ":*"
	iter := f.client.Scan(ctx, 0, prefix, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := f.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Handle is the Redis-backed store.Handle implementation.
type Handle struct {
	client redis.UniversalClient
	runKey string
}

var _ store.Handle = (*Handle)(nil)

func (h *Handle) hashKey(section store.Section) string {
	return h.runKey + ":" + strings.ReplaceAll(string(section), "/", ":")
}

// Get implements store.Handle.
func (h *Handle) Get(ctx context.Context, section store.Section, key string) ([]byte, error) {
	v, err := h.client.HGet(ctx, h.hashKey(section), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, section, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return []byte(v), nil
}

// Set implements store.Handle.
func (h *Handle) Set(ctx context.Context, section store.Section, key string, value []byte) error {
	if err := h.client.HSet(ctx, h.hashKey(section), key, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Push implements store.Handle by appending a newline-delimited record
// via a Lua-free read-modify-write under Redis's own per-command
// atomicity (HSet overwrites the whole field value).
func (h *Handle) Push(ctx context.Context, section store.Section, key string, value []byte) error {
	existing, err := h.client.HGet(ctx, h.hashKey(section), key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	next := string(value)
	if existing != "" {
		next = existing + "\n" + next
	}
	return h.Set(ctx, section, key, []byte(next))
}

// Exists implements store.Handle.
func (h *Handle) Exists(ctx context.Context, section store.Section, key string) (bool, error) {
	n, err := h.client.HExists(ctx, h.hashKey(section), key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Delete implements store.Handle.
func (h *Handle) Delete(ctx context.Context, section store.Section, key string) error {
	if err := h.client.HDel(ctx, h.hashKey(section), key).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}
