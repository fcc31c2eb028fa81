package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/auth"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
	"github.com/tesseradb/tessera/store"
)

// Transaction stages writes against a fixed tip snapshot and commits them as
// a single new entry. There is no pessimistic conflict detection: two
// transactions committing against the same snapshot produce a fork, which
// the CRDT merge resolves on read.
//
// A transaction is not safe for concurrent use.
type Transaction struct {
	db   *Database
	tips []string

	snapshot     []*entry.Entry
	storeTips    map[string][]string
	stagedDocs   map[string]crdt.Doc
	stagedTables map[string]crdt.TableDelta
	closed       bool
}

// NewTransaction snapshots the current tips and starts a transaction.
func (db *Database) NewTransaction(ctx context.Context) (*Transaction, error) {
	tips, err := db.backend.GetTips(ctx, db.rootId)
	if err != nil {
		return nil, err
	}
	if len(tips) == 0 {
		return nil, fmt.Errorf("%w: database %s", backend.ErrNotFound, db.rootId)
	}
	return &Transaction{
		db:           db,
		tips:         tips,
		storeTips:    make(map[string][]string),
		stagedDocs:   make(map[string]crdt.Doc),
		stagedTables: make(map[string]crdt.TableDelta),
	}, nil
}

// Tips returns the main-line tips the transaction was started against.
func (tx *Transaction) Tips() []string {
	return append([]string(nil), tx.tips...)
}

// Settings returns the settings store handle bound to this transaction.
func (tx *Transaction) Settings() *store.Settings {
	return store.NewSettings(tx)
}

// Registry returns the store registry handle bound to this transaction.
func (tx *Transaction) Registry() *store.Registry {
	return store.NewRegistry(tx)
}

// DocStore opens a document store handle bound to this transaction.
func (tx *Transaction) DocStore(ctx context.Context, name string) (*store.DocStore, error) {
	return store.NewDocStore(ctx, tx, name)
}

// Table opens a typed table handle bound to the transaction.
func Table[T any](ctx context.Context, tx *Transaction, name string) (*store.Table[T], error) {
	return store.NewTable[T](ctx, tx, name)
}

// storeTipsFor computes the named store's tips within the history reachable
// from the transaction snapshot. Deriving them from the snapshot instead of
// the live index keeps reads stable while concurrent commits land.
func (tx *Transaction) storeTipsFor(ctx context.Context, name string) ([]string, error) {
	if tips, ok := tx.storeTips[name]; ok {
		return tips, nil
	}
	if tx.snapshot == nil {
		entries, err := tx.db.reachable(ctx, tx.tips)
		if err != nil {
			return nil, err
		}
		tx.snapshot = entries
	}
	tips := entry.StoreTips(tx.snapshot, name)
	tx.storeTips[name] = tips
	return tips, nil
}

// StageDocPath stages one document write.
func (tx *Transaction) StageDocPath(ctx context.Context, name, path string, v crdt.Value) error {
	if tx.closed {
		return ErrTxClosed
	}
	d, ok := tx.stagedDocs[name]
	if !ok {
		d = crdt.Doc{}
		tx.stagedDocs[name] = d
	}
	d.Set(path, v)
	return nil
}

// StageTableRow stages one table row write.
func (tx *Transaction) StageTableRow(ctx context.Context, name, rowId string, row crdt.Row) error {
	if tx.closed {
		return ErrTxClosed
	}
	d, ok := tx.stagedTables[name]
	if !ok {
		d = crdt.TableDelta{}
		tx.stagedTables[name] = d
	}
	d[rowId] = row
	return nil
}

// DocState returns the merged document state at the snapshot with the
// transaction's staged delta layered on top, so handles read their own
// writes before commit.
func (tx *Transaction) DocState(ctx context.Context, name string) (*crdt.DocState, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	tips, err := tx.storeTipsFor(ctx, name)
	if err != nil {
		return nil, err
	}
	deltas, err := tx.db.storeDeltas(ctx, name, tips)
	if err != nil {
		return nil, err
	}
	state, err := crdt.MergeDoc(deltas)
	if err != nil {
		return nil, err
	}
	if staged, ok := tx.stagedDocs[name]; ok {
		state.ApplyDelta(staged, stagedHeight(deltas), "")
	}
	return state, nil
}

// TableState is DocState for table stores.
func (tx *Transaction) TableState(ctx context.Context, name string) (*crdt.TableState, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	tips, err := tx.storeTipsFor(ctx, name)
	if err != nil {
		return nil, err
	}
	deltas, err := tx.db.storeDeltas(ctx, name, tips)
	if err != nil {
		return nil, err
	}
	state, err := crdt.MergeTable(deltas)
	if err != nil {
		return nil, err
	}
	if staged, ok := tx.stagedTables[name]; ok {
		state.ApplyDelta(staged, stagedHeight(deltas), "")
	}
	return state, nil
}

// stagedHeight places staged writes strictly after all merged history.
// Deltas are sorted, so the last one carries the maximum height.
func stagedHeight(deltas []crdt.Delta) uint64 {
	if len(deltas) == 0 {
		return 1
	}
	return deltas[len(deltas)-1].Height + 1
}

// Abort discards all staged writes. Aborting a closed transaction is a no-op.
func (tx *Transaction) Abort() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.stagedDocs = nil
	tx.stagedTables = nil
	tx.db.counters.Abort()
}

// Commit seals the staged deltas into one signed entry and persists it.
// The permission check runs against the settings state of the snapshot, so
// a revocation visible there fails the commit even if a concurrent entry
// re-grants the key. An empty transaction commits nothing and returns an
// empty id. The transaction is closed whatever the outcome.
func (tx *Transaction) Commit(ctx context.Context) (id string, err error) {
	if tx.closed {
		return "", ErrTxClosed
	}
	tx.closed = true
	if len(tx.stagedDocs) == 0 && len(tx.stagedTables) == 0 {
		return "", nil
	}

	settingsTips, err := tx.storeTipsFor(ctx, entry.SettingsStore)
	if err != nil {
		return "", err
	}
	state, err := tx.db.docStateAt(ctx, entry.SettingsStore, settingsTips)
	if err != nil {
		return "", err
	}
	view, err := auth.NewView(state)
	if err != nil {
		return "", err
	}
	if err = tx.checkPermissions(view); err != nil {
		tx.db.counters.PermissionDenied()
		return "", err
	}

	strategy := view.HeightStrategy()
	parentHeights, err := tx.heightsOf(ctx, tx.tips, "")
	if err != nil {
		return "", err
	}
	height := strategy.Calculate(parentHeights)

	b := entry.NewBuilder(tx.db.rootId).
		SetParents(tx.tips).
		SetHeight(height).
		SetKey(tx.db.keyName)
	stage := func(name string, payload []byte) error {
		parents, err := tx.storeTipsFor(ctx, name)
		if err != nil {
			return err
		}
		storeHeights, err := tx.heightsOf(ctx, parents, name)
		if err != nil {
			return err
		}
		storeHeight := strategy.Calculate(storeHeights)
		var override *uint64
		if storeHeight != height {
			override = &storeHeight
		}
		b.SetStoreDelta(name, payload, parents, override)
		return nil
	}
	for name, doc := range tx.stagedDocs {
		payload, err := doc.Marshal()
		if err != nil {
			return "", err
		}
		if err = stage(name, payload); err != nil {
			return "", err
		}
	}
	for name, td := range tx.stagedTables {
		payload, err := td.Marshal()
		if err != nil {
			return "", err
		}
		if err = stage(name, payload); err != nil {
			return "", err
		}
	}

	e, err := b.Build(tx.db.key)
	if err != nil {
		return "", err
	}
	if err = tx.db.backend.Put(ctx, e); err != nil {
		return "", err
	}
	tx.db.counters.Commit()
	log.DebugCtx(ctx, "committed", zap.String("entry", e.Id), zap.Uint64("height", e.Height))
	return e.Id, nil
}

// checkPermissions verifies the authoring key against the snapshot policy:
// active write access always, admin rank when the transaction edits
// settings, and sufficient rank for every key record it touches.
func (tx *Transaction) checkPermissions(view *auth.View) error {
	keyName := tx.db.keyName
	if err := view.CheckWrite(keyName); err != nil {
		return err
	}
	rec, ok := view.Key(keyName)
	if !ok || !rec.PubKey.Equals(tx.db.key.GetPublic()) {
		return fmt.Errorf("%w: local key does not match the record for %s", auth.ErrPermissionDenied, keyName)
	}
	staged, ok := tx.stagedDocs[entry.SettingsStore]
	if !ok {
		return nil
	}
	if err := view.CheckAdmin(keyName); err != nil {
		return err
	}
	if edits, ok := staged.Get(auth.KeysPath); ok && edits.Kind == crdt.KindMap {
		for target := range edits.Map {
			if err := view.CheckModifyKey(keyName, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// heightsOf resolves the ordering keys of a parent set, in the main scope
// when store is empty and in the store scope otherwise.
func (tx *Transaction) heightsOf(ctx context.Context, ids []string, store string) ([]uint64, error) {
	heights := make([]uint64, 0, len(ids))
	for _, id := range ids {
		e, err := tx.db.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if store == "" {
			heights = append(heights, e.Height)
			continue
		}
		h, err := e.StoreHeight(store)
		if err != nil {
			return nil, err
		}
		heights = append(heights, h)
	}
	return heights, nil
}
