package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableConcurrentInsertsUnion(t *testing.T) {
	s := NewTableState()
	s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"id":1}`)}}, 1, "aaa")
	s.ApplyDelta(TableDelta{"2": {Data: json.RawMessage(`{"id":2}`)}}, 1, "bbb")

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("1")
	assert.True(t, ok)
	_, ok = s.Get("2")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"1", "2"}, s.Ids())
}

func TestTableSameRowLWW(t *testing.T) {
	s := NewTableState()
	s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"old"}`)}}, 3, "aaa")
	s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"new"}`)}}, 4, "bbb")

	data, ok := s.Get("1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":"new"}`, string(data))

	// equal height: larger ord wins
	s = NewTableState()
	s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"fromZ"}`)}}, 3, "zzz")
	s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"fromA"}`)}}, 3, "aaa")
	data, _ = s.Get("1")
	assert.JSONEq(t, `{"v":"fromZ"}`, string(data))
}

func TestTableDeletionWins(t *testing.T) {
	t.Run("delete before concurrent update", func(t *testing.T) {
		s := NewTableState()
		s.ApplyDelta(TableDelta{"1": {Deleted: true}}, 2, "aaa")
		s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"upd"}`)}}, 3, "bbb")
		_, ok := s.Get("1")
		assert.False(t, ok)
	})
	t.Run("delete after concurrent update", func(t *testing.T) {
		s := NewTableState()
		s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"upd"}`)}}, 3, "bbb")
		s.ApplyDelta(TableDelta{"1": {Deleted: true}}, 2, "aaa")
		_, ok := s.Get("1")
		assert.False(t, ok)
	})
	t.Run("deleted rows never resurrect", func(t *testing.T) {
		s := NewTableState()
		s.ApplyDelta(TableDelta{"1": {Deleted: true}}, 1, "aaa")
		s.ApplyDelta(TableDelta{"1": {Data: json.RawMessage(`{"v":"later"}`)}}, 100, "zzz")
		_, ok := s.Get("1")
		assert.False(t, ok)
		assert.Equal(t, 0, s.Len())
	})
}

func TestTableDeltaRoundTrip(t *testing.T) {
	d := TableDelta{
		"1": {Data: json.RawMessage(`{"id":1}`)},
		"2": {Deleted: true},
	}
	data, err := d.Marshal()
	require.NoError(t, err)
	parsed, err := UnmarshalTableDelta(data)
	require.NoError(t, err)
	assert.True(t, parsed["2"].Deleted)
	assert.JSONEq(t, `{"id":1}`, string(parsed["1"].Data))

	_, err = UnmarshalTableDelta([]byte("garbage"))
	assert.ErrorIs(t, err, ErrSerialization)
}
