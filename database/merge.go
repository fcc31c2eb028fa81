package database

import (
	"context"
	"strings"

	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
)

// storeDeltas returns the full delta history of one store, walking the
// store-scope parent edges back from the given store tips. The result is
// sorted in merge order and cached by (store, tip set): a tip set pins an
// immutable slice of history, so cached folds never go stale.
func (db *Database) storeDeltas(ctx context.Context, store string, tips []string) ([]crdt.Delta, error) {
	if len(tips) == 0 {
		return nil, nil
	}
	key := "tips\x00" + store + "\x00" + strings.Join(tips, "\x00")
	if deltas, ok := db.deltas.Get(key); ok {
		return deltas, nil
	}
	seen := make(map[string]struct{})
	queue := append([]string(nil), tips...)
	var deltas []crdt.Delta
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		e, err := db.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		delta, err := db.storeDelta(e, store)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
		parents, err := e.StoreParents(store)
		if err != nil {
			return nil, err
		}
		queue = append(queue, parents...)
	}
	crdt.SortDeltas(deltas)
	db.deltas.Add(key, deltas)
	db.counters.Merge()
	return deltas, nil
}

// reachableStoreDeltas collects the named store's deltas among all entries
// reachable from arbitrary main-line positions. Unlike storeDeltas it does
// not require the frontier to participate in the store; historical settings
// lookups use it to reconstruct the policy as of any entry's parents.
func (db *Database) reachableStoreDeltas(ctx context.Context, store string, from []string) ([]crdt.Delta, error) {
	if len(from) == 0 {
		return nil, nil
	}
	key := "reach\x00" + store + "\x00" + strings.Join(from, "\x00")
	if deltas, ok := db.deltas.Get(key); ok {
		return deltas, nil
	}
	entries, err := db.reachable(ctx, from)
	if err != nil {
		return nil, err
	}
	var deltas []crdt.Delta
	for _, e := range entries {
		if !e.InStore(store) {
			continue
		}
		delta, err := db.storeDelta(e, store)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, delta)
	}
	crdt.SortDeltas(deltas)
	db.deltas.Add(key, deltas)
	db.counters.Merge()
	return deltas, nil
}

// reachable returns every entry reachable from the given ids over main-line
// parent edges, the given entries included.
func (db *Database) reachable(ctx context.Context, from []string) ([]*entry.Entry, error) {
	seen := make(map[string]struct{})
	queue := append([]string(nil), from...)
	var entries []*entry.Entry
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		e, err := db.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		queue = append(queue, e.Parents...)
	}
	return entries, nil
}

func (db *Database) storeDelta(e *entry.Entry, store string) (crdt.Delta, error) {
	payload, err := e.StoreDelta(store)
	if err != nil {
		return crdt.Delta{}, err
	}
	height, err := e.StoreHeight(store)
	if err != nil {
		return crdt.Delta{}, err
	}
	return crdt.Delta{Payload: payload, Height: height, Ord: e.Id}, nil
}

// docStateAt folds a document store's history at the given store tips.
func (db *Database) docStateAt(ctx context.Context, store string, tips []string) (*crdt.DocState, error) {
	deltas, err := db.storeDeltas(ctx, store, tips)
	if err != nil {
		return nil, err
	}
	return crdt.MergeDoc(deltas)
}

// tableStateAt folds a table store's history at the given store tips.
func (db *Database) tableStateAt(ctx context.Context, store string, tips []string) (*crdt.TableState, error) {
	deltas, err := db.storeDeltas(ctx, store, tips)
	if err != nil {
		return nil, err
	}
	return crdt.MergeTable(deltas)
}
