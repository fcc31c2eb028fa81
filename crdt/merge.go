package crdt

import "sort"

// Delta is one store contribution found in the DAG: the serialized payload
// plus its merge-order key. Ord is the hash of the entry that wrote the
// delta; it breaks height ties with a total, replica-independent order.
type Delta struct {
	Payload []byte
	Height  uint64
	Ord     string
}

// SortDeltas orders deltas by height ascending, ties by lexicographic ord.
// The resulting order is total and identical on every replica, which is
// what makes the fold below commutative over arrival order.
func SortDeltas(deltas []Delta) {
	sort.Slice(deltas, func(i, j int) bool {
		if deltas[i].Height != deltas[j].Height {
			return deltas[i].Height < deltas[j].Height
		}
		return deltas[i].Ord < deltas[j].Ord
	})
}

// MergeDoc reduces a set of concurrent document deltas into one state.
// The input may arrive in any order; duplicates are harmless because a
// delta re-applied at the same (height, ord) never wins over itself.
func MergeDoc(deltas []Delta) (*DocState, error) {
	SortDeltas(deltas)
	state := NewDocState()
	for _, d := range deltas {
		if len(d.Payload) == 0 {
			continue
		}
		doc, err := UnmarshalDoc(d.Payload)
		if err != nil {
			return nil, err
		}
		state.ApplyDelta(doc, d.Height, d.Ord)
	}
	return state, nil
}

// MergeTable reduces a set of concurrent table deltas into one state.
func MergeTable(deltas []Delta) (*TableState, error) {
	SortDeltas(deltas)
	state := NewTableState()
	for _, d := range deltas {
		if len(d.Payload) == 0 {
			continue
		}
		td, err := UnmarshalTableDelta(d.Payload)
		if err != nil {
			return nil, err
		}
		state.ApplyDelta(td, d.Height, d.Ord)
	}
	return state, nil
}
