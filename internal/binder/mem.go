package binder

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mem is an in-memory Store used by tests and by deployments that run
// without a binder. It preserves the binder's semantics: existence is
// presence of metadata, a held identifier without elements does not
// yet exist, and setting an empty value deletes the element.
type Mem struct {
	mu       sync.Mutex
	elements map[string]map[string]string
	held     map[string]struct{}
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{
		elements: make(map[string]map[string]string),
		held:     make(map[string]struct{}),
	}
}

// Exists reports whether the ARK has metadata bound.
func (m *Mem) Exists(_ context.Context, ark string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.elements[ark]) > 0, nil
}

// Hold reserves the identifier.
func (m *Mem) Hold(_ context.Context, ark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[ark] = struct{}{}
	return nil
}

// Get returns a copy of the ARK's elements, or nil if none are bound.
func (m *Mem) Get(_ context.Context, ark string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.elements[ark]
	if len(d) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, nil
}

// Set merges elements into the ARK's bindings.
func (m *Mem) Set(_ context.Context, ark string, elements map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.elements[ark]
	if d == nil {
		d = make(map[string]string)
		m.elements[ark] = d
	}
	for e, v := range elements {
		e = strings.TrimSpace(e)
		if e == "" {
			return fmt.Errorf("empty element name")
		}
		v = strings.TrimSpace(v)
		if v == "" {
			delete(d, e)
		} else {
			d[e] = v
		}
	}
	return nil
}

// Delete purges all bindings for the ARK.
func (m *Mem) Delete(_ context.Context, ark string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.elements, ark)
	delete(m.held, ark)
	return nil
}

var _ Store = (*Mem)(nil)
