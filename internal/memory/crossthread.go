package memory

import (
	"sync"

	"github.com/waddadaa/gpagent/internal/errkind"
)

// CrossThreadStore persists a namespace → (key → value) fact map as a
// single JSON document, shared across sessions.
type CrossThreadStore struct {
	mu   sync.Mutex
	path string
	data map[string]map[string]any
}

// OpenCrossThreadStore loads the fact map from path, or starts empty. A
// parse failure on this auxiliary store is recovered by starting empty
// and is not fatal to the process, per the corruption-handling policy.
func OpenCrossThreadStore(path string) *CrossThreadStore {
	c := &CrossThreadStore{path: path, data: make(map[string]map[string]any)}
	if _, err := readJSONDocument(path, &c.data); err != nil {
		c.data = make(map[string]map[string]any)
	}
	if c.data == nil {
		c.data = make(map[string]map[string]any)
	}
	return c
}

// Get returns the value stored at namespace/key, and whether it existed.
func (c *CrossThreadStore) Get(namespace, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.data[namespace]
	if !ok {
		return nil, false
	}
	v, ok := ns[key]
	return v, ok
}

// Set stores value at namespace/key and persists.
func (c *CrossThreadStore) Set(namespace, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.data[namespace]
	if !ok {
		ns = make(map[string]any)
		c.data[namespace] = ns
	}
	ns[key] = value
	if err := writeJSONDocument(c.path, c.data); err != nil {
		return errkind.Wrap(errkind.MemorySaveFailed, err).WithSource("CrossThreadMemory")
	}
	return nil
}

// Namespace returns a copy of every key/value pair under namespace.
func (c *CrossThreadStore) Namespace(namespace string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.data[namespace]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(ns))
	for k, v := range ns {
		out[k] = v
	}
	return out
}

// Delete removes namespace/key and persists.
func (c *CrossThreadStore) Delete(namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.data[namespace]
	if !ok {
		return nil
	}
	delete(ns, key)
	return writeJSONDocument(c.path, c.data)
}
