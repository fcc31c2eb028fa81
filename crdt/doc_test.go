package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocSetGet(t *testing.T) {
	d := Doc{}
	d.Set("name", String("alice"))
	d.Set("user.profile.age", Int(30))
	d.Delete("user.old")

	v, ok := d.Get("name")
	require.True(t, ok)
	s, err := v.StringValue()
	require.NoError(t, err)
	assert.Equal(t, "alice", s)

	v, ok = d.Get("user.profile.age")
	require.True(t, ok)
	i, err := v.IntValue()
	require.NoError(t, err)
	assert.EqualValues(t, 30, i)

	v, ok = d.Get("user.old")
	require.True(t, ok)
	assert.True(t, v.IsDeleted())
}

func TestDocMarshalRoundTrip(t *testing.T) {
	d := Doc{}
	d.Set("a", String("x"))
	d.Set("b.c", Bool(true))
	d.Set("b.d", List(Int(1), Int(2)))
	d.Delete("gone")

	data, err := d.Marshal()
	require.NoError(t, err)
	parsed, err := UnmarshalDoc(data)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestUnmarshalDocRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalDoc([]byte(`{"a":{"k":"mystery"}}`))
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = UnmarshalDoc([]byte(`not json`))
	assert.ErrorIs(t, err, ErrSerialization)
}

func applyDoc(t *testing.T, s *DocState, height uint64, ord string, set func(Doc)) {
	t.Helper()
	d := Doc{}
	set(d)
	s.ApplyDelta(d, height, ord)
}

func TestDocStateLWWByHeight(t *testing.T) {
	s := NewDocState()
	applyDoc(t, s, 3, "aaa", func(d Doc) { d.Set("name", String("three")) })
	applyDoc(t, s, 4, "bbb", func(d Doc) { d.Set("name", String("four")) })

	v, ok := s.Get("name")
	require.True(t, ok)
	assert.Equal(t, String("four"), v)

	// application order must not matter
	s = NewDocState()
	applyDoc(t, s, 4, "bbb", func(d Doc) { d.Set("name", String("four")) })
	applyDoc(t, s, 3, "aaa", func(d Doc) { d.Set("name", String("three")) })
	v, _ = s.Get("name")
	assert.Equal(t, String("four"), v)
}

func TestDocStateHashTieBreak(t *testing.T) {
	// equal heights: lexicographically larger entry hash wins
	s := NewDocState()
	applyDoc(t, s, 3, "zzz", func(d Doc) { d.Set("name", String("fromZ")) })
	applyDoc(t, s, 3, "aaa", func(d Doc) { d.Set("name", String("fromA")) })

	v, ok := s.Get("name")
	require.True(t, ok)
	assert.Equal(t, String("fromZ"), v)
}

func TestDocStateDisjointPathsBothKept(t *testing.T) {
	s := NewDocState()
	applyDoc(t, s, 1, "aaa", func(d Doc) { d.Set("left", String("l")) })
	applyDoc(t, s, 1, "bbb", func(d Doc) { d.Set("right", String("r")) })

	_, okL := s.Get("left")
	_, okR := s.Get("right")
	assert.True(t, okL)
	assert.True(t, okR)
	assert.ElementsMatch(t, []string{"left", "right"}, s.Keys(""))
}

func TestDocStateTombstones(t *testing.T) {
	t.Run("later delete shadows earlier value", func(t *testing.T) {
		s := NewDocState()
		applyDoc(t, s, 1, "aaa", func(d Doc) { d.Set("name", String("v")) })
		applyDoc(t, s, 2, "bbb", func(d Doc) { d.Delete("name") })
		_, ok := s.Get("name")
		assert.False(t, ok)

		raw, ok := s.GetRaw("name")
		require.True(t, ok)
		assert.True(t, raw.IsDeleted())
	})
	t.Run("strictly later write overwrites tombstone", func(t *testing.T) {
		s := NewDocState()
		applyDoc(t, s, 2, "bbb", func(d Doc) { d.Delete("name") })
		applyDoc(t, s, 3, "ccc", func(d Doc) { d.Set("name", String("back")) })
		v, ok := s.Get("name")
		require.True(t, ok)
		assert.Equal(t, String("back"), v)
	})
	t.Run("deleted keys are hidden from Keys", func(t *testing.T) {
		s := NewDocState()
		applyDoc(t, s, 1, "aaa", func(d Doc) { d.Set("keep", String("v")); d.Delete("drop") })
		assert.Equal(t, []string{"keep"}, s.Keys(""))
	})
}

func TestDocStateNestedConflict(t *testing.T) {
	// a later leaf write replaces an entire earlier subtree and vice versa
	s := NewDocState()
	applyDoc(t, s, 1, "aaa", func(d Doc) { d.Set("user.name", String("alice")) })
	applyDoc(t, s, 2, "bbb", func(d Doc) { d.Set("user", String("flat")) })
	v, ok := s.Get("user")
	require.True(t, ok)
	assert.Equal(t, String("flat"), v)

	s = NewDocState()
	applyDoc(t, s, 2, "bbb", func(d Doc) { d.Set("user", String("flat")) })
	applyDoc(t, s, 1, "aaa", func(d Doc) { d.Set("user.name", String("alice")) })
	v, ok = s.Get("user")
	require.True(t, ok)
	assert.Equal(t, String("flat"), v)
}
