package database

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseradb/tessera/auth"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
	"github.com/tesseradb/tessera/util/cidutil"
	"github.com/tesseradb/tessera/util/crypto"
)

// newReplica bootstraps an empty backend from fx's root entry.
func newReplica(t *testing.T, fx *fixture) *Database {
	t.Helper()
	root, err := fx.be.Get(ctx, fx.db.Id())
	require.NoError(t, err)
	raw, err := root.Marshal()
	require.NoError(t, err)
	db, err := Bootstrap(ctx, backend.NewInMemory(), raw, fx.key, "admin")
	require.NoError(t, err)
	return db
}

func syncAll(t *testing.T, from, to *Database) {
	t.Helper()
	theirTips, err := to.Tips(ctx)
	require.NoError(t, err)
	missing, err := from.EntriesReachableSince(ctx, theirTips)
	require.NoError(t, err)
	for _, e := range missing {
		raw, err := e.Marshal()
		require.NoError(t, err)
		require.NoError(t, to.AcceptForeignEntry(ctx, raw))
	}
}

func TestReplicaConverges(t *testing.T) {
	fx := newFixture(t)
	fx.commitDoc(t, "notes", "title", "hello")
	fx.commitDoc(t, "notes", "body", "world")

	replica := newReplica(t, fx)
	syncAll(t, fx.db, replica)

	h1, err := fx.db.HeadsHash(ctx)
	require.NoError(t, err)
	h2, err := replica.HeadsHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	state, err := replica.DocState(ctx, "notes")
	require.NoError(t, err)
	v, ok := state.Get("title")
	require.True(t, ok)
	s, err := v.StringValue()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestBidirectionalSyncMerges(t *testing.T) {
	fx := newFixture(t)
	fx.commitDoc(t, "notes", "base", "yes")

	replica := newReplica(t, fx)
	syncAll(t, fx.db, replica)

	// both sides commit independently, then exchange
	fx.commitDoc(t, "notes", "origin", "a")
	tx, err := replica.NewTransaction(ctx)
	require.NoError(t, err)
	docs, err := tx.DocStore(ctx, "notes")
	require.NoError(t, err)
	require.NoError(t, docs.SetString(ctx, "replica", "b"))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)

	syncAll(t, fx.db, replica)
	syncAll(t, replica, fx.db)

	h1, err := fx.db.HeadsHash(ctx)
	require.NoError(t, err)
	h2, err := replica.HeadsHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	for _, db := range []*Database{fx.db, replica} {
		state, err := db.DocState(ctx, "notes")
		require.NoError(t, err)
		_, okA := state.Get("origin")
		_, okB := state.Get("replica")
		assert.True(t, okA)
		assert.True(t, okB)
	}
}

func TestMissingParentQuarantine(t *testing.T) {
	fx := newFixture(t)
	fx.commitDoc(t, "notes", "a", "1")
	fx.commitDoc(t, "notes", "b", "2")

	replica := newReplica(t, fx)
	tips, err := replica.Tips(ctx)
	require.NoError(t, err)
	missing, err := fx.db.EntriesReachableSince(ctx, tips)
	require.NoError(t, err)
	require.Len(t, missing, 2)

	// newest first: its parent is unknown, so it must be rejected without
	// corrupting the replica's tips
	newest, err := missing[1].Marshal()
	require.NoError(t, err)
	err = replica.AcceptForeignEntry(ctx, newest)
	assert.ErrorIs(t, err, backend.ErrMissingParent)

	afterReject, err := replica.Tips(ctx)
	require.NoError(t, err)
	assert.Equal(t, tips, afterReject)

	// backfill in order, then the quarantined entry goes through
	oldest, err := missing[0].Marshal()
	require.NoError(t, err)
	require.NoError(t, replica.AcceptForeignEntry(ctx, oldest))
	require.NoError(t, replica.AcceptForeignEntry(ctx, newest))

	h1, err := fx.db.HeadsHash(ctx)
	require.NoError(t, err)
	h2, err := replica.HeadsHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestAcceptIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	id := fx.commitDoc(t, "notes", "a", "1")

	e, err := fx.be.Get(ctx, id)
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)

	replica := newReplica(t, fx)
	require.NoError(t, replica.AcceptForeignEntry(ctx, raw))
	require.NoError(t, replica.AcceptForeignEntry(ctx, raw))

	tips, err := replica.Tips(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, tips)
}

func TestRejectTamperedPayload(t *testing.T) {
	fx := newFixture(t)
	id := fx.commitDoc(t, "notes", "a", "1")

	e, err := fx.be.Get(ctx, id)
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)
	raw.Payload = append(raw.Payload, ' ')

	replica := newReplica(t, fx)
	assert.ErrorIs(t, replica.AcceptForeignEntry(ctx, raw), entry.ErrIncorrectCid)
}

func TestRejectForgedSignature(t *testing.T) {
	fx := newFixture(t)
	forgerKey, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	// claims to be admin but is signed by someone else
	forged, err := entry.NewBuilder(fx.db.Id()).
		SetParents([]string{fx.db.Id()}).
		SetHeight(1).
		SetKey("admin").
		Build(forgerKey)
	require.NoError(t, err)
	raw, err := forged.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), entry.ErrIncorrectSignature)
}

func TestRejectUnknownForeignKey(t *testing.T) {
	fx := newFixture(t)
	strangerKey, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	e, err := entry.NewBuilder(fx.db.Id()).
		SetParents([]string{fx.db.Id()}).
		SetHeight(1).
		SetKey("stranger").
		Build(strangerKey)
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), auth.ErrPermissionDenied)
}

// A self-certified "second root" claiming to belong to the existing database
// would bypass every settings check, so it must die in structural validation.
func TestRejectForgedRoot(t *testing.T) {
	fx := newFixture(t)
	attackerKey, attackerPub, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	grant := &auth.Key{
		Name:       "attacker",
		PubKey:     attackerPub,
		Status:     auth.StatusActive,
		Permission: auth.Permission{Kind: auth.PermAdmin, Priority: 0},
	}
	doc := crdt.Doc{}
	doc.Set(auth.KeysPath+".attacker", grant.Value())
	payload, err := doc.Marshal()
	require.NoError(t, err)

	// builders refuse this shape, so it is assembled by hand the way an
	// attacker with their own tooling would: the root marker next to the
	// target database id and a settings delta at an unbeatable height
	forged := &entry.Entry{
		Root:   fx.db.Id(),
		Nonce:  "n",
		Height: 1 << 40,
		Key:    "attacker",
		Stores: []entry.StoreNode{
			{Name: entry.RootStore},
			{Name: entry.SettingsStore, Delta: payload},
		},
	}
	subject, err := forged.SigningBytes()
	require.NoError(t, err)
	forged.Signature, err = attackerKey.Sign(subject)
	require.NoError(t, err)
	canonical, err := forged.CanonicalBytes()
	require.NoError(t, err)
	forged.Id, err = cidutil.NewCidFromBytes(canonical)
	require.NoError(t, err)

	tipsBefore, err := fx.db.Tips(ctx)
	require.NoError(t, err)

	raw := &entry.Raw{Id: forged.Id, Payload: canonical}
	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), entry.ErrInvalidEntry)

	tips, err := fx.db.Tips(ctx)
	require.NoError(t, err)
	assert.Equal(t, tipsBefore, tips)
	view, err := fx.db.SettingsView(ctx, tips)
	require.NoError(t, err)
	_, ok := view.Key("attacker")
	assert.False(t, ok)
}

func TestRejectDetachedForeignRoot(t *testing.T) {
	fx := newFixture(t)
	attackerKey, attackerPub, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	// a perfectly valid root, just for a database that is not ours
	grant := &auth.Key{
		Name:       "attacker",
		PubKey:     attackerPub,
		Status:     auth.StatusActive,
		Permission: auth.Permission{Kind: auth.PermAdmin, Priority: 0},
	}
	doc := crdt.Doc{}
	doc.Set(auth.KeysPath+".attacker", grant.Value())
	payload, err := doc.Marshal()
	require.NoError(t, err)
	other, err := entry.NewRootBuilder().
		SetKey("attacker").
		SetStoreDelta(entry.SettingsStore, payload, nil, nil).
		Build(attackerKey)
	require.NoError(t, err)
	raw, err := other.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), ErrWrongDatabase)
	ok, err := fx.be.Has(ctx, other.Id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRejectNonMonotonicHeight(t *testing.T) {
	fx := newFixture(t)
	fx.commitDoc(t, "notes", "a", "1")
	tips, err := fx.db.Tips(ctx)
	require.NoError(t, err)

	doc := crdt.Doc{}
	doc.Set("b", crdt.String("2"))
	payload, err := doc.Marshal()
	require.NoError(t, err)

	// properly signed by an admin, but claiming a height equal to its
	// parent's; accepting it would break the parents-first export order
	stale, err := entry.NewBuilder(fx.db.Id()).
		SetParents(tips).
		SetHeight(1).
		SetKey("admin").
		SetStoreDelta("notes", payload, tips, nil).
		Build(fx.key)
	require.NoError(t, err)
	raw, err := stale.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), entry.ErrInvalidEntry)
	ok, err := fx.be.Has(ctx, stale.Id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntriesSincePaged(t *testing.T) {
	fx := newFixture(t)
	for i := 0; i < 5; i++ {
		fx.commitDoc(t, "notes", fmt.Sprintf("k%d", i), "v")
	}

	replica := newReplica(t, fx)
	tips, err := replica.Tips(ctx)
	require.NoError(t, err)
	stream, err := fx.db.EntriesSince(ctx, tips)
	require.NoError(t, err)
	require.Equal(t, 5, stream.Len())

	// feeding small batches in stream order must keep parents ahead of
	// children, so every accept succeeds on the first try
	var batches int
	for {
		batch, err := stream.Next(ctx, 2)
		require.NoError(t, err)
		if len(batch) == 0 {
			break
		}
		batches++
		require.LessOrEqual(t, len(batch), 2)
		for _, e := range batch {
			raw, err := e.Marshal()
			require.NoError(t, err)
			require.NoError(t, replica.AcceptForeignEntry(ctx, raw))
		}
	}
	assert.Equal(t, 3, batches)
	assert.Equal(t, 0, stream.Len())

	h1, err := fx.db.HeadsHash(ctx)
	require.NoError(t, err)
	h2, err := replica.HeadsHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestRejectWrongDatabase(t *testing.T) {
	fx := newFixture(t)
	other := newFixture(t)
	id := other.commitDoc(t, "notes", "a", "1")

	e, err := other.be.Get(ctx, id)
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), ErrWrongDatabase)
}

func TestForeignSettingsEditNeedsAdmin(t *testing.T) {
	fx := newFixture(t)
	writerKey := addWriter(t, fx, "writer")

	// the writer commits a settings edit on a fork of the history where the
	// local engine would have refused it, then ships it over
	rogue := newReplica(t, fx)
	syncAll(t, fx.db, rogue)
	rogueTips, err := rogue.Tips(ctx)
	require.NoError(t, err)

	doc := crdt.Doc{}
	doc.Set(auth.NamePath, crdt.String("hijacked"))
	payload, err := doc.Marshal()
	require.NoError(t, err)
	heights := uint64(0)
	for _, id := range rogueTips {
		e, err := rogue.backend.Get(ctx, id)
		require.NoError(t, err)
		if e.Height > heights {
			heights = e.Height
		}
	}
	forged, err := entry.NewBuilder(fx.db.Id()).
		SetParents(rogueTips).
		SetHeight(heights + 1).
		SetKey("writer").
		SetStoreDelta(entry.SettingsStore, payload, rogueTips, nil).
		Build(writerKey)
	require.NoError(t, err)
	raw, err := forged.Marshal()
	require.NoError(t, err)

	assert.ErrorIs(t, fx.db.AcceptForeignEntry(ctx, raw), auth.ErrPermissionDenied)
}
