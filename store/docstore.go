package store

import (
	"context"
	"fmt"

	"github.com/tesseradb/tessera/crdt"
)

// DocStore is a typed handle over a document store: a nested last-writer-wins
// map addressed by dotted paths. Writes stage into the owning transaction;
// reads see the merged snapshot plus staged writes.
type DocStore struct {
	op   Op
	name string
}

// NewDocStore opens a document store handle, registering the store on first
// use. Opening a store registered under a different type fails with
// ErrStoreTypeMismatch.
func NewDocStore(ctx context.Context, op Op, name string) (*DocStore, error) {
	if err := NewRegistry(op).Register(ctx, name, DocStoreType); err != nil {
		return nil, err
	}
	return &DocStore{op: op, name: name}, nil
}

func (d *DocStore) Name() string {
	return d.name
}

func (d *DocStore) TypeId() string {
	return DocStoreType
}

// Set stages a value at a dotted path.
func (d *DocStore) Set(ctx context.Context, path string, v crdt.Value) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return d.op.StageDocPath(ctx, d.name, path, v)
}

// SetString stages a string value at a dotted path.
func (d *DocStore) SetString(ctx context.Context, path, s string) error {
	return d.Set(ctx, path, crdt.String(s))
}

// Delete stages a tombstone at a dotted path.
func (d *DocStore) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return d.op.StageDocPath(ctx, d.name, path, crdt.Deleted())
}

// Get returns the merged value at a dotted path. Missing and deleted paths
// report crdt.ErrNotFound.
func (d *DocStore) Get(ctx context.Context, path string) (crdt.Value, error) {
	state, err := d.op.DocState(ctx, d.name)
	if err != nil {
		return crdt.Value{}, err
	}
	v, ok := state.Get(path)
	if !ok {
		return crdt.Value{}, fmt.Errorf("%w: %s", crdt.ErrNotFound, path)
	}
	return v, nil
}

// GetString returns the string at a dotted path.
func (d *DocStore) GetString(ctx context.Context, path string) (string, error) {
	v, err := d.Get(ctx, path)
	if err != nil {
		return "", err
	}
	return v.StringValue()
}

// Keys returns the live child keys at a dotted path, or at the root when
// path is empty.
func (d *DocStore) Keys(ctx context.Context, path string) ([]string, error) {
	state, err := d.op.DocState(ctx, d.name)
	if err != nil {
		return nil, err
	}
	return state.Keys(path), nil
}

// Doc snapshots the whole merged document, tombstones excluded.
func (d *DocStore) Doc(ctx context.Context) (crdt.Doc, error) {
	state, err := d.op.DocState(ctx, d.name)
	if err != nil {
		return nil, err
	}
	return state.Doc(), nil
}
