// Package storage persists the learned state of inference trees.
//
// Nodes opt in by implementing Persistent. SaveTree and LoadTree walk a
// tree and move the state of every persistent node to or from a
// ModelStore under a key derived from the node's path, so a tree rebuilt
// from the same definition finds its state again.
package storage

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/francis-maes/lbcpp-sub006/pkg/inference"
)

var (
	// ErrNotFound is returned by a ModelStore for a key it does not hold.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicatePath is returned when two persistent nodes share a path.
	ErrDuplicatePath = errors.New("storage: duplicate node path")
)

// StateSuffix is appended to node paths to form store keys.
const StateSuffix = ".state"

// Persistent is implemented by nodes whose learned state can be saved.
type Persistent interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// ModelStore holds opaque state blobs by key.
type ModelStore interface {
	Save(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// StateKey returns the key under which the node at path is stored. Keys
// are NFC normalized so a name typed in either Unicode form maps to the
// same blob.
func StateKey(prefix, path string) string {
	key := norm.NFC.String(path + StateSuffix)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = norm.NFC.String(prefix) + "/" + key
	}
	return key
}

// SaveTree saves every persistent node under root and returns how many
// were saved.
func SaveTree(ctx context.Context, store ModelStore, prefix string, root inference.Node) (int, error) {
	nodes, err := persistentNodes(root)
	if err != nil {
		return 0, err
	}
	saved := 0
	for _, pn := range nodes {
		data, err := pn.state.MarshalBinary()
		if err != nil {
			return saved, fmt.Errorf("failed to encode %s: %w", pn.path, err)
		}
		metadata := map[string]string{"node": pn.node.Name(), "path": pn.path}
		if err := store.Save(ctx, StateKey(prefix, pn.path), data, metadata); err != nil {
			return saved, fmt.Errorf("failed to save %s: %w", pn.path, err)
		}
		saved++
	}
	return saved, nil
}

// LoadTree restores every persistent node under root that has a saved
// state and returns how many were restored. Nodes without a saved state
// keep their current one.
func LoadTree(ctx context.Context, store ModelStore, prefix string, root inference.Node) (int, error) {
	nodes, err := persistentNodes(root)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, pn := range nodes {
		data, err := store.Load(ctx, StateKey(prefix, pn.path))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("failed to load %s: %w", pn.path, err)
		}
		if err := pn.state.UnmarshalBinary(data); err != nil {
			return loaded, fmt.Errorf("failed to decode %s: %w", pn.path, err)
		}
		loaded++
	}
	return loaded, nil
}

type persistentNode struct {
	path  string
	node  inference.Node
	state Persistent
}

func persistentNodes(root inference.Node) ([]persistentNode, error) {
	var out []persistentNode
	seen := map[string]bool{}
	err := inference.Walk(root, func(path string, node inference.Node) error {
		state, ok := node.(Persistent)
		if !ok {
			return nil
		}
		if seen[path] {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, path)
		}
		seen[path] = true
		out = append(out, persistentNode{path: path, node: node, state: state})
		return nil
	})
	return out, err
}

// MemoryStore is an in-process ModelStore.
type MemoryStore struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	metadata map[string]map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *MemoryStore) Save(_ context.Context, key string, data []byte, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	m.metadata[key] = maps.Clone(metadata)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Metadata returns the metadata saved with key.
func (m *MemoryStore) Metadata(key string) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.metadata[key])
}

// Keys returns the stored keys in no particular order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	return keys
}

var _ ModelStore = (*MemoryStore)(nil)
