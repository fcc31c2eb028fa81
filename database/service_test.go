package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseradb/tessera/app"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/util/crypto"
)

func TestServiceWiring(t *testing.T) {
	a := new(app.App)
	a.Register(backend.NewInMemory()).
		Register(metric.New()).
		Register(NewService())
	require.NoError(t, a.Start(ctx))
	defer a.Close(ctx)

	svc := app.MustComponent[Service](a)
	key, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	db, err := svc.Create(ctx, key, "admin", "appdb", crdt.Incremental)
	require.NoError(t, err)

	opened, err := svc.Open(ctx, db.Id(), key, "admin")
	require.NoError(t, err)
	assert.Equal(t, db.Id(), opened.Id())

	roots, err := svc.ListDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{db.Id()}, roots)
}

func TestServiceWithoutMetric(t *testing.T) {
	a := new(app.App)
	a.Register(backend.NewInMemory()).Register(NewService())
	require.NoError(t, a.Start(ctx))
	defer a.Close(ctx)

	svc := app.MustComponent[Service](a)
	key, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)

	db, err := svc.Create(ctx, key, "admin", "nodash", crdt.Timestamp)
	require.NoError(t, err)

	tx, err := db.NewTransaction(ctx)
	require.NoError(t, err)
	docs, err := tx.DocStore(ctx, "notes")
	require.NoError(t, err)
	require.NoError(t, docs.SetString(ctx, "a", "b"))
	_, err = tx.Commit(ctx)
	require.NoError(t, err)
}
