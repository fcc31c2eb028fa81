package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tesseradb/tessera/entry"
)

// InMemory is the reference Backend used by tests and embedders that don't
// need durability. All maps are guarded by one mutex; tip indexes are
// maintained incrementally on every Put.
type InMemory struct {
	mu sync.Mutex
	// entries is id -> entry for every known database
	entries map[string]*entry.Entry
	// tips is root -> set of main-line tip ids
	tips map[string]map[string]struct{}
	// storeTips is root -> store name -> set of tip ids
	storeTips map[string]map[string]map[string]struct{}
	roots     []string
}

func NewInMemory() *InMemory {
	return &InMemory{
		entries:   make(map[string]*entry.Entry),
		tips:      make(map[string]map[string]struct{}),
		storeTips: make(map[string]map[string]map[string]struct{}),
	}
}

func (b *InMemory) Put(ctx context.Context, e *entry.Entry) error {
	// structural validation is repeated here so a malformed entry can never
	// enter the store through a path that skipped Unmarshal
	if err := e.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[e.Id]; ok {
		// entries are immutable, a re-put of a known id changes nothing
		return nil
	}

	// every referenced parent must already be known before anything mutates
	for _, p := range e.Parents {
		if _, ok := b.entries[p]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingParent, p)
		}
	}
	if !e.IsRoot() {
		if _, ok := b.entries[e.Root]; !ok {
			return fmt.Errorf("%w: database root %s", ErrMissingParent, e.Root)
		}
	}
	for _, name := range e.StoreNames() {
		parents, _ := e.StoreParents(name)
		for _, p := range parents {
			if _, ok := b.entries[p]; !ok {
				return fmt.Errorf("%w: store %s parent %s", ErrMissingParent, name, p)
			}
		}
	}

	b.entries[e.Id] = e
	root := e.DatabaseId()
	if e.IsRoot() {
		b.roots = append(b.roots, e.Id)
	}

	// the new entry becomes a tip and shadows its parents
	dbTips, ok := b.tips[root]
	if !ok {
		dbTips = make(map[string]struct{})
		b.tips[root] = dbTips
	}
	dbTips[e.Id] = struct{}{}
	for _, p := range e.Parents {
		delete(dbTips, p)
	}

	storeTips, ok := b.storeTips[root]
	if !ok {
		storeTips = make(map[string]map[string]struct{})
		b.storeTips[root] = storeTips
	}
	for _, name := range e.StoreNames() {
		tips, ok := storeTips[name]
		if !ok {
			tips = make(map[string]struct{})
			storeTips[name] = tips
		}
		tips[e.Id] = struct{}{}
		parents, _ := e.StoreParents(name)
		for _, p := range parents {
			delete(tips, p)
		}
	}
	return nil
}

func (b *InMemory) Get(ctx context.Context, id string) (*entry.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (b *InMemory) Has(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok, nil
}

func (b *InMemory) GetTips(ctx context.Context, root string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedKeys(b.tips[root]), nil
}

func (b *InMemory) GetStoreTips(ctx context.Context, root, store string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return sortedKeys(b.storeTips[root][store]), nil
}

func (b *InMemory) AllRoots(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.roots...), nil
}

// Len returns the number of known entries.
func (b *InMemory) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func sortedKeys(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
