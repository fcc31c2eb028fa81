package crdt

import (
	"encoding/json"
	"fmt"
)

// Row is one staged table row inside a delta. Deleted rows keep no data.
type Row struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Deleted bool            `json:"del,omitempty"`
}

// TableDelta maps row ids to the rows one entry wrote.
type TableDelta map[string]Row

// Marshal serializes the delta for inclusion in an entry.
func (d TableDelta) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalTableDelta parses a serialized table delta.
func UnmarshalTableDelta(data []byte) (TableDelta, error) {
	var d TableDelta
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return d, nil
}

type rowState struct {
	data    json.RawMessage
	deleted bool
	height  uint64
	ord     string
}

// TableState is the merged read-only state of a table store.
//
// Rows follow last-writer-wins by (height, ord) with one exception: a
// deletion takes precedence over any concurrent or later update of the same
// row. Once deleted, a row id never resurrects. This is the deterministic
// reading of the delete-vs-update ambiguity and it keeps the merge
// trivially idempotent for deletions.
type TableState struct {
	rows map[string]*rowState
}

func NewTableState() *TableState {
	return &TableState{rows: make(map[string]*rowState)}
}

// ApplyDelta folds one delta written at (height, ord) into the state.
func (s *TableState) ApplyDelta(d TableDelta, height uint64, ord string) {
	for id, row := range d {
		existing, ok := s.rows[id]
		if row.Deleted {
			s.rows[id] = &rowState{deleted: true, height: height, ord: ord}
			continue
		}
		if ok {
			if existing.deleted {
				// deletion wins regardless of ordering
				continue
			}
			if !laterThan(height, ord, existing.height, existing.ord) {
				continue
			}
		}
		s.rows[id] = &rowState{data: row.Data, height: height, ord: ord}
	}
}

// Get returns the row data for id. Deleted and unknown rows report not found.
func (s *TableState) Get(id string) (json.RawMessage, bool) {
	row, ok := s.rows[id]
	if !ok || row.deleted {
		return nil, false
	}
	return row.data, true
}

// Ids returns the ids of all live rows.
func (s *TableState) Ids() []string {
	var ids []string
	for id, row := range s.rows {
		if !row.deleted {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live rows.
func (s *TableState) Len() int {
	var n int
	for _, row := range s.rows {
		if !row.deleted {
			n++
		}
	}
	return n
}
