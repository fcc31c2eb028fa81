package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/tesseradb/tessera/crdt"
)

// Table is a typed handle over a table store: rows of T addressed by
// generated ids, merged last-writer-wins per row with deletions permanently
// winning over concurrent updates.
type Table[T any] struct {
	op   Op
	name string
}

// NewTable opens a table handle, registering the store on first use.
func NewTable[T any](ctx context.Context, op Op, name string) (*Table[T], error) {
	if err := NewRegistry(op).Register(ctx, name, TableType); err != nil {
		return nil, err
	}
	return &Table[T]{op: op, name: name}, nil
}

func (t *Table[T]) Name() string {
	return t.name
}

func (t *Table[T]) TypeId() string {
	return TableType
}

// Insert stages a new row under a generated id and returns the id.
func (t *Table[T]) Insert(ctx context.Context, row T) (string, error) {
	id := uuid.NewString()
	return id, t.put(ctx, id, row)
}

// Set stages row data under an explicit id. Writing to a deleted row stages
// the data but merge keeps the row deleted.
func (t *Table[T]) Set(ctx context.Context, id string, row T) error {
	if id == "" {
		return fmt.Errorf("%w: empty row id", ErrInvalidName)
	}
	return t.put(ctx, id, row)
}

func (t *Table[T]) put(ctx context.Context, id string, row T) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: %v", crdt.ErrSerialization, err)
	}
	return t.op.StageTableRow(ctx, t.name, id, crdt.Row{Data: data})
}

// Get returns the row under id. Missing and deleted rows report
// crdt.ErrNotFound.
func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var row T
	state, err := t.op.TableState(ctx, t.name)
	if err != nil {
		return row, err
	}
	data, ok := state.Get(id)
	if !ok {
		return row, fmt.Errorf("%w: row %s", crdt.ErrNotFound, id)
	}
	if err = json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("%w: row %s: %v", crdt.ErrSerialization, id, err)
	}
	return row, nil
}

// Delete stages a deletion of id. Deleted rows never resurrect.
func (t *Table[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty row id", ErrInvalidName)
	}
	return t.op.StageTableRow(ctx, t.name, id, crdt.Row{Deleted: true})
}

// Ids returns the ids of all live rows, sorted.
func (t *Table[T]) Ids(ctx context.Context) ([]string, error) {
	state, err := t.op.TableState(ctx, t.name)
	if err != nil {
		return nil, err
	}
	ids := state.Ids()
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of live rows.
func (t *Table[T]) Len(ctx context.Context) (int, error) {
	state, err := t.op.TableState(ctx, t.name)
	if err != nil {
		return 0, err
	}
	return state.Len(), nil
}

// Search returns all live rows matching the predicate, keyed by id.
func (t *Table[T]) Search(ctx context.Context, pred func(id string, row T) bool) (map[string]T, error) {
	state, err := t.op.TableState(ctx, t.name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T)
	for _, id := range state.Ids() {
		data, ok := state.Get(id)
		if !ok {
			continue
		}
		var row T
		if err = json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("%w: row %s: %v", crdt.ErrSerialization, id, err)
		}
		if pred(id, row) {
			out[id] = row
		}
	}
	return out, nil
}
