package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tesseradb/tessera/auth"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
	"github.com/tesseradb/tessera/util/crypto"
)

// EntryStream pages through the entries a peer is missing, oldest first.
// Only the ordered ids stay in memory; entry bodies load per batch.
type EntryStream struct {
	db  *Database
	ids []string
}

// EntriesSince opens a stream over everything reachable from the current
// tips but not from since, ordered so parents always precede children.
// Unknown ids in since are ignored; the peer simply knows history we do
// not.
func (db *Database) EntriesSince(ctx context.Context, since []string) (*EntryStream, error) {
	known := make(map[string]struct{})
	queue := append([]string(nil), since...)
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := known[id]; ok {
			continue
		}
		e, err := db.backend.Get(ctx, id)
		if errors.Is(err, backend.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		known[id] = struct{}{}
		queue = append(queue, e.Parents...)
	}

	tips, err := db.Tips(ctx)
	if err != nil {
		return nil, err
	}
	type ordered struct {
		id     string
		height uint64
	}
	var missing []ordered
	seen := make(map[string]struct{})
	queue = tips
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := known[id]; ok {
			continue
		}
		e, err := db.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		missing = append(missing, ordered{id: e.Id, height: e.Height})
		queue = append(queue, e.Parents...)
	}
	// heights strictly grow along parent edges, so ascending height is a
	// valid import order; ids break ties deterministically
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].height != missing[j].height {
			return missing[i].height < missing[j].height
		}
		return missing[i].id < missing[j].id
	})
	ids := make([]string, len(missing))
	for i, m := range missing {
		ids[i] = m.id
	}
	return &EntryStream{db: db, ids: ids}, nil
}

// Next returns the next batch of at most limit entries; limit <= 0 drains
// the stream. An empty batch means the stream is exhausted.
func (s *EntryStream) Next(ctx context.Context, limit int) ([]*entry.Entry, error) {
	if limit <= 0 || limit > len(s.ids) {
		limit = len(s.ids)
	}
	if limit == 0 {
		return nil, nil
	}
	batch := make([]*entry.Entry, 0, limit)
	for _, id := range s.ids[:limit] {
		e, err := s.db.backend.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}
	s.ids = s.ids[limit:]
	return batch, nil
}

// Len returns the number of entries not yet returned by Next.
func (s *EntryStream) Len() int {
	return len(s.ids)
}

// EntriesReachableSince drains EntriesSince into one slice. Convenient for
// small histories and tests; a paged exchange goes through EntriesSince.
func (db *Database) EntriesReachableSince(ctx context.Context, since []string) ([]*entry.Entry, error) {
	stream, err := db.EntriesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return stream.Next(ctx, 0)
}

// AcceptForeignEntry validates an entry received from a peer and persists
// it. The signature is checked against the settings policy as of the entry's
// parents, not the current one, so replicas converge on the same accept
// decision regardless of arrival order. An entry whose parents are not yet
// known fails with backend.ErrMissingParent and leaves all indexes
// untouched; the caller backfills and retries.
func (db *Database) AcceptForeignEntry(ctx context.Context, raw *entry.Raw) error {
	e, err := entry.Unmarshal(raw)
	if err != nil {
		return err
	}
	if e.DatabaseId() != db.rootId {
		return fmt.Errorf("%w: %s belongs to %s", ErrWrongDatabase, e.Id, e.DatabaseId())
	}
	if ok, err := db.backend.Has(ctx, e.Id); err != nil {
		return err
	} else if ok {
		return nil
	}

	var view *auth.View
	if e.IsRoot() {
		// the only acceptable root is an idempotent re-import of our own;
		// any other self-certified root is a takeover attempt
		if e.Id != db.rootId {
			return fmt.Errorf("%w: unexpected root %s", ErrWrongDatabase, e.Id)
		}
		view, err = rootView(e)
	} else {
		maxParent, perr := db.requireParents(ctx, e)
		if perr != nil {
			return perr
		}
		// both height strategies author strictly above the parents; an
		// imported entry claiming otherwise would corrupt export ordering
		if e.Height <= maxParent {
			return fmt.Errorf("%w: height %d does not exceed parent heights", entry.ErrInvalidEntry, e.Height)
		}
		view, err = db.SettingsView(ctx, e.Parents)
	}
	if err != nil {
		return err
	}
	if err = db.checkForeignAuthor(e, view); err != nil {
		db.counters.PermissionDenied()
		return err
	}

	if err = db.backend.Put(ctx, e); err != nil {
		return err
	}
	db.counters.Import()
	log.DebugCtx(ctx, "imported entry", zap.String("entry", e.Id), zap.String("key", e.Key))
	return nil
}

// requireParents fails fast with ErrMissingParent before any validation that
// needs DAG traversal, so unsyncable entries are quarantined cheaply. It
// returns the maximum parent height for the height monotonicity check.
func (db *Database) requireParents(ctx context.Context, e *entry.Entry) (maxHeight uint64, err error) {
	for _, p := range e.Parents {
		pe, err := db.backend.Get(ctx, p)
		if errors.Is(err, backend.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", backend.ErrMissingParent, p)
		}
		if err != nil {
			return 0, err
		}
		if pe.Height > maxHeight {
			maxHeight = pe.Height
		}
	}
	return maxHeight, nil
}

// checkForeignAuthor resolves the entry's authoring key in the given policy
// view and verifies permissions and the signature.
func (db *Database) checkForeignAuthor(e *entry.Entry, view *auth.View) error {
	rec, ok := view.Key(e.Key)
	if !ok {
		return fmt.Errorf("%w: unknown key %q", auth.ErrPermissionDenied, e.Key)
	}
	if err := view.CheckWrite(e.Key); err != nil {
		return err
	}
	if e.InStore(entry.SettingsStore) && !e.IsRoot() {
		if err := view.CheckAdmin(e.Key); err != nil {
			return err
		}
		targets, err := settingsEditTargets(e)
		if err != nil {
			return err
		}
		for _, target := range targets {
			if err = view.CheckModifyKey(e.Key, target); err != nil {
				return err
			}
		}
	}
	return e.VerifySignature(rec.PubKey)
}

// Bootstrap creates a replica of an existing database from its root entry,
// verifying that the root is self-certified before anything is persisted.
// The replica then catches up through AcceptForeignEntry.
func Bootstrap(ctx context.Context, be backend.Backend, raw *entry.Raw, key crypto.PrivKey, keyName string, opts ...Option) (*Database, error) {
	e, err := entry.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	if !e.IsRoot() {
		return nil, fmt.Errorf("%w: %s", ErrNotRoot, e.Id)
	}
	view, err := rootView(e)
	if err != nil {
		return nil, err
	}
	rec, ok := view.Key(e.Key)
	if !ok {
		return nil, fmt.Errorf("%w: root key %q is not self-certified", auth.ErrPermissionDenied, e.Key)
	}
	if err = e.VerifySignature(rec.PubKey); err != nil {
		return nil, err
	}
	if err = be.Put(ctx, e); err != nil {
		return nil, err
	}
	return newDatabase(be, e.Id, key, keyName, opts), nil
}

// rootView builds the policy view of a root entry from its own initial
// settings delta. The root is self-certifying: its authoring key must be
// declared inside the entry it signs.
func rootView(e *entry.Entry) (*auth.View, error) {
	payload, err := e.StoreDelta(entry.SettingsStore)
	if err != nil {
		return nil, err
	}
	state, err := crdt.MergeDoc([]crdt.Delta{{Payload: payload, Height: e.Height, Ord: e.Id}})
	if err != nil {
		return nil, err
	}
	return auth.NewView(state)
}

// settingsEditTargets lists the key names a settings delta touches.
func settingsEditTargets(e *entry.Entry) ([]string, error) {
	payload, err := e.StoreDelta(entry.SettingsStore)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	doc, err := crdt.UnmarshalDoc(payload)
	if err != nil {
		return nil, err
	}
	edits, ok := doc.Get(auth.KeysPath)
	if !ok || edits.Kind != crdt.KindMap {
		return nil, nil
	}
	var targets []string
	for name := range edits.Map {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets, nil
}
