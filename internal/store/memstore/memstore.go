// Package memstore is an in-process store.Factory, useful for tests and
// single-process deployments.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lightflow-run/lightflow/internal/store"
)

// ErrAlreadyExists is returned by Create when runID already has a document.
var ErrAlreadyExists = errors.New("memstore: run already exists")

// Factory is an in-process store.Factory.
type Factory struct {
	mu   sync.Mutex
	docs map[string]*Handle
}

var _ store.Factory = (*Factory)(nil)

// New builds an empty Factory.
func New() *Factory {
	return &Factory{docs: make(map[string]*Handle)}
}

// Create implements store.Factory.
func (f *Factory) Create(_ context.Context, runID string) (store.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[runID]; ok {
		return nil, ErrAlreadyExists
	}
	h := &Handle{sections: make(map[store.Section]map[string][]byte)}
	f.docs[runID] = h
	return h, nil
}

// Open implements store.Factory.
func (f *Factory) Open(_ context.Context, runID string) (store.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.docs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, runID)
	}
	return h, nil
}

// Remove implements store.Factory.
func (f *Factory) Remove(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, runID)
	return nil
}

// Handle is the in-process store.Handle implementation.
type Handle struct {
	mu       sync.RWMutex
	sections map[store.Section]map[string][]byte
}

var _ store.Handle = (*Handle)(nil)

func (h *Handle) sectionMap(section store.Section) map[string][]byte {
	m, ok := h.sections[section]
	if !ok {
		m = make(map[string][]byte)
		h.sections[section] = m
	}
	return m
}

// Get implements store.Handle.
func (h *Handle) Get(_ context.Context, section store.Section, key string) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.sections[section][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, section, key)
	}
	return append([]byte(nil), v...), nil
}

// Set implements store.Handle. Last write wins per key.
func (h *Handle) Set(_ context.Context, section store.Section, key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sectionMap(section)[key] = append([]byte(nil), value...)
	return nil
}

// Push implements store.Handle by JSON-array-free concatenation:
// successive pushes are newline-delimited, which keeps
// the handle's wire format uniform with Set/Get without introducing a
// list type into the interface.
func (h *Handle) Push(_ context.Context, section store.Section, key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.sectionMap(section)
	existing, ok := m[key]
	if !ok {
		m[key] = append([]byte(nil), value...)
		return nil
	}
	buf := make([]byte, 0, len(existing)+1+len(value))
	buf = append(buf, existing...)
	buf = append(buf, '\n')
	buf = append(buf, value...)
	m[key] = buf
	return nil
}

// Exists implements store.Handle.
func (h *Handle) Exists(_ context.Context, section store.Section, key string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sections[section][key]
	return ok, nil
}

// Delete implements store.Handle.
func (h *Handle) Delete(_ context.Context, section store.Section, key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sections[section], key)
	return nil
}
