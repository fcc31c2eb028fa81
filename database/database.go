// Package database implements the transactional core: databases are DAGs of
// signed, content-addressed entries; transactions stage CRDT deltas against a
// tip snapshot and commit them as one new entry.
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/tesseradb/tessera/app/logger"
	"github.com/tesseradb/tessera/auth"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/util/crypto"
)

var log = logger.NewNamed("database")

var (
	ErrTxClosed      = errors.New("transaction is closed")
	ErrNotRoot       = errors.New("entry is not a database root")
	ErrWrongDatabase = errors.New("entry belongs to another database")
)

// merged-state cache entries are cheap (slices of pointers into stored
// payloads), the bound only protects against unbounded tip-set churn
const mergeCacheSize = 512

// Database is a handle over one DAG in a backend, bound to the local
// authoring key. All reads go through merged CRDT state at some tip set;
// all writes go through transactions.
type Database struct {
	backend backend.Backend
	rootId  string
	key     crypto.PrivKey
	keyName string

	counters *metric.DBCounters
	deltas   *lru.Cache[string, []crdt.Delta]
}

// Option configures optional database collaborators.
type Option func(*Database)

// WithMetric wires the engine counters of a metric component.
func WithMetric(m metric.Metric) Option {
	return func(db *Database) {
		if m != nil {
			db.counters = m.DB()
		}
	}
}

func newDatabase(be backend.Backend, rootId string, key crypto.PrivKey, keyName string, opts []Option) *Database {
	db := &Database{
		backend: be,
		rootId:  rootId,
		key:     key,
		keyName: keyName,
	}
	db.deltas, _ = lru.New[string, []crdt.Delta](mergeCacheSize)
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Create writes a new database root entry: the _root marker plus an initial
// settings delta naming the database, the height strategy and the creator's
// key as the highest-ranked admin.
func Create(ctx context.Context, be backend.Backend, key crypto.PrivKey, keyName, dbName string, strategy crdt.HeightStrategy, opts ...Option) (*Database, error) {
	if err := auth.ValidateKeyName(keyName); err != nil {
		return nil, err
	}
	settings := crdt.Doc{}
	settings.Set(auth.NamePath, crdt.String(dbName))
	settings.Set(auth.StrategyPath, crdt.String(strategy.String()))
	adminKey := &auth.Key{
		Name:       keyName,
		PubKey:     key.GetPublic(),
		Status:     auth.StatusActive,
		Permission: auth.Permission{Kind: auth.PermAdmin, Priority: 0},
	}
	settings.Set(auth.KeysPath+"."+keyName, adminKey.Value())
	payload, err := settings.Marshal()
	if err != nil {
		return nil, err
	}

	root, err := entry.NewRootBuilder().
		SetStoreDelta(entry.SettingsStore, payload, nil, nil).
		SetKey(keyName).
		Build(key)
	if err != nil {
		return nil, err
	}
	if err = be.Put(ctx, root); err != nil {
		return nil, err
	}
	log.InfoCtx(ctx, "database created", zap.String("rootId", root.Id), zap.String("name", dbName))
	return newDatabase(be, root.Id, key, keyName, opts), nil
}

// Open binds to an existing database by its root id.
func Open(ctx context.Context, be backend.Backend, rootId string, key crypto.PrivKey, keyName string, opts ...Option) (*Database, error) {
	root, err := be.Get(ctx, rootId)
	if err != nil {
		return nil, err
	}
	if !root.IsRoot() {
		return nil, fmt.Errorf("%w: %s", ErrNotRoot, rootId)
	}
	return newDatabase(be, rootId, key, keyName, opts), nil
}

// Id returns the database root entry id.
func (db *Database) Id() string {
	return db.rootId
}

// KeyName returns the settings name of the local authoring key.
func (db *Database) KeyName() string {
	return db.keyName
}

// Tips returns the current main-line tips, sorted.
func (db *Database) Tips(ctx context.Context) ([]string, error) {
	return db.backend.GetTips(ctx, db.rootId)
}

// HeadsHash returns a fingerprint of the sorted tip set. Two replicas with
// equal hashes hold the same history; unequal hashes start a sync exchange.
func (db *Database) HeadsHash(ctx context.Context) (uint64, error) {
	tips, err := db.Tips(ctx)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(strings.Join(tips, "\n")), nil
}

// DocState folds a document store at its current tips, outside any
// transaction. Mid-read commits may or may not be visible; transactional
// reads are the consistent path.
func (db *Database) DocState(ctx context.Context, store string) (*crdt.DocState, error) {
	tips, err := db.backend.GetStoreTips(ctx, db.rootId, store)
	if err != nil {
		return nil, err
	}
	return db.docStateAt(ctx, store, tips)
}

// TableState is DocState for table stores.
func (db *Database) TableState(ctx context.Context, store string) (*crdt.TableState, error) {
	tips, err := db.backend.GetStoreTips(ctx, db.rootId, store)
	if err != nil {
		return nil, err
	}
	return db.tableStateAt(ctx, store, tips)
}

// SettingsView returns the auth policy view as of the history reachable from
// the given entry ids. Passing the current tips yields the live policy.
func (db *Database) SettingsView(ctx context.Context, at []string) (*auth.View, error) {
	deltas, err := db.reachableStoreDeltas(ctx, entry.SettingsStore, at)
	if err != nil {
		return nil, err
	}
	state, err := crdt.MergeDoc(deltas)
	if err != nil {
		return nil, err
	}
	return auth.NewView(state)
}
