package crdt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Doc is the delta form of the document store: a nested map of keys to
// values staged by a single entry. Deletions are staged as tombstones.
// Path arguments are dot separated ("user.profile.name").
type Doc map[string]Value

// Set stages a value at a dotted path, creating intermediate maps.
// Writing through a non-map value replaces it.
func (d Doc) Set(path string, v Value) {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next.Kind != KindMap {
			next = Map(nil)
			cur[part] = next
		}
		cur = next.Map
	}
	cur[parts[len(parts)-1]] = v
}

// Delete stages a tombstone at a dotted path.
func (d Doc) Delete(path string) {
	d.Set(path, Deleted())
}

// Get returns the staged value at a dotted path.
// Tombstones are returned as KindDeleted values.
func (d Doc) Get(path string) (Value, bool) {
	parts := strings.Split(path, ".")
	cur := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next.Kind != KindMap {
			return Value{}, false
		}
		cur = next.Map
	}
	v, ok := cur[parts[len(parts)-1]]
	return v, ok
}

// Marshal serializes the delta for inclusion in an entry.
func (d Doc) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDoc parses a serialized document delta.
func UnmarshalDoc(data []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	for _, v := range d {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// docNode is one node of the merged document state. Every node remembers
// the (height, ord) of the latest write that produced it, which is the
// comparison key when concurrent deltas disagree about its shape.
type docNode struct {
	children map[string]*docNode // non-nil only for map nodes
	value    Value               // leaf payload, including tombstones
	height   uint64
	ord      string
}

func (n *docNode) isMap() bool {
	return n.children != nil
}

// DocState is the merged read-only state of a document store, produced by
// folding deltas in (height, ord) order.
type DocState struct {
	root *docNode
}

func NewDocState() *DocState {
	return &DocState{root: &docNode{children: make(map[string]*docNode)}}
}

// ApplyDelta folds one delta written at (height, ord) into the state.
// Deltas must be applied in ascending (height, ord) order; the merge
// engine guarantees that.
func (s *DocState) ApplyDelta(d Doc, height uint64, ord string) {
	applyMap(s.root, d, height, ord)
}

func applyMap(node *docNode, d Doc, height uint64, ord string) {
	for key, v := range d {
		child, ok := node.children[key]
		if v.Kind == KindMap {
			if !ok || !child.isMap() {
				// a map write shadows an earlier leaf only when it is later
				if ok && !laterThan(height, ord, child.height, child.ord) {
					continue
				}
				child = &docNode{children: make(map[string]*docNode), height: height, ord: ord}
				node.children[key] = child
			}
			if laterThan(height, ord, child.height, child.ord) {
				child.height, child.ord = height, ord
			}
			applyMap(child, Doc(v.Map), height, ord)
			continue
		}
		if ok && !laterThan(height, ord, child.height, child.ord) {
			continue
		}
		node.children[key] = &docNode{value: v, height: height, ord: ord}
	}
}

// laterThan reports whether (h1, o1) is strictly later than (h2, o2) in the
// total merge order: height ascending, ties broken by lexicographic ord.
func laterThan(h1 uint64, o1 string, h2 uint64, o2 string) bool {
	if h1 != h2 {
		return h1 > h2
	}
	return o1 > o2
}

// Get returns the merged value at a dotted path. Paths resolving to a
// tombstone report not found.
func (s *DocState) Get(path string) (Value, bool) {
	node := s.lookup(path)
	if node == nil {
		return Value{}, false
	}
	if node.isMap() {
		return Map(s.collect(node)), true
	}
	if node.value.IsDeleted() {
		return Value{}, false
	}
	return node.value, true
}

// GetRaw is Get without tombstone filtering; deleted paths come back as
// KindDeleted values. The settings layer uses it to distinguish "never
// written" from "revoked".
func (s *DocState) GetRaw(path string) (Value, bool) {
	node := s.lookup(path)
	if node == nil {
		return Value{}, false
	}
	if node.isMap() {
		return Map(s.collect(node)), true
	}
	return node.value, true
}

func (s *DocState) lookup(path string) *docNode {
	parts := strings.Split(path, ".")
	node := s.root
	for _, part := range parts {
		if !node.isMap() {
			return nil
		}
		next, ok := node.children[part]
		if !ok {
			return nil
		}
		node = next
	}
	return node
}

// Keys returns the live (non-tombstone) child keys at a dotted path,
// or at the root when path is empty.
func (s *DocState) Keys(path string) []string {
	node := s.root
	if path != "" {
		node = s.lookup(path)
	}
	if node == nil || !node.isMap() {
		return nil
	}
	var keys []string
	for k, child := range node.children {
		if !child.isMap() && child.value.IsDeleted() {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Doc snapshots the merged state as a plain delta-shaped document,
// tombstones excluded.
func (s *DocState) Doc() Doc {
	return Doc(s.collect(s.root))
}

func (s *DocState) collect(node *docNode) map[string]Value {
	out := make(map[string]Value, len(node.children))
	for k, child := range node.children {
		if child.isMap() {
			out[k] = Map(s.collect(child))
			continue
		}
		if child.value.IsDeleted() {
			continue
		}
		out[k] = child.value
	}
	return out
}
