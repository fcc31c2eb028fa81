package entry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tesseradb/tessera/util/cidutil"
	"github.com/tesseradb/tessera/util/crypto"
)

var (
	ErrIncorrectSignature = errors.New("entry has incorrect signature")
	ErrIncorrectCid       = errors.New("entry has incorrect cid")
	ErrInvalidEntry       = errors.New("entry failed validation")
	ErrStoreNotFound      = errors.New("entry has no such store")
)

// Reserved store names. These are bookkeeping stores managed by the engine
// itself and are excluded from registry self-registration.
const (
	RootStore     = "_root"
	SettingsStore = "_settings"
	IndexStore    = "_index"
)

// IsSystemStore reports whether name is one of the reserved store names.
func IsSystemStore(name string) bool {
	return name == RootStore || name == SettingsStore || name == IndexStore
}

// StoreNode carries one store's contribution inside an Entry: the serialized
// CRDT delta plus that store's own parent tips, since a store's history can
// fork and merge at a different cadence than the main line.
type StoreNode struct {
	Name string `json:"name"`
	// Parents are the store-scope parent entry ids, kept sorted.
	Parents []string `json:"parents,omitempty"`
	// Delta is the serialized CRDT payload. Nil means the entry participates
	// in the store's history without carrying data.
	Delta json.RawMessage `json:"delta,omitempty"`
	// Height is set only when the store runs its own height strategy,
	// otherwise the store inherits the entry height.
	Height *uint64 `json:"h,omitempty"`
}

// Entry is the immutable, content-addressed unit of the DAG.
//
// The id is the cid of the canonical JSON encoding of all other fields.
// Entries are created through a Builder and never mutated afterwards.
type Entry struct {
	// Id is computed from content and excluded from the canonical encoding.
	Id string `json:"-"`

	// Root is the id of the database root entry. Empty only for roots.
	Root string `json:"root,omitempty"`
	// Parents are the main-line parent entry ids, kept sorted.
	Parents []string `json:"parents,omitempty"`
	// Stores are the per-store contributions, kept sorted by name.
	Stores []StoreNode `json:"stores,omitempty"`
	// Height is the main-line ordering key derived from parent heights.
	Height uint64 `json:"h,omitempty"`
	// Nonce makes roots of otherwise identical databases distinct.
	Nonce string `json:"nonce,omitempty"`
	// Key names the authoring key as registered in the settings store.
	Key string `json:"key,omitempty"`
	// Signature covers the canonical bytes with the signature field zeroed.
	Signature []byte `json:"sig,omitempty"`
}

// Raw is the exchange form of an entry: canonical payload plus its id.
type Raw struct {
	Id      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// IsRoot reports whether the entry starts a database: it carries the _root
// marker store and has no main-line parents.
func (e *Entry) IsRoot() bool {
	return len(e.Parents) == 0 && e.InStore(RootStore)
}

// DatabaseId returns the id of the database this entry belongs to.
func (e *Entry) DatabaseId() string {
	if e.Root == "" {
		return e.Id
	}
	return e.Root
}

// InStore reports whether the entry participates in the named store.
func (e *Entry) InStore(name string) bool {
	return e.storeNode(name) != nil
}

// StoreNames returns the names of all stores this entry participates in,
// in sorted order.
func (e *Entry) StoreNames() []string {
	names := make([]string, 0, len(e.Stores))
	for _, n := range e.Stores {
		names = append(names, n.Name)
	}
	return names
}

// StoreDelta returns the serialized delta for the named store.
// A participating store without data returns nil delta and no error.
func (e *Entry) StoreDelta(name string) (json.RawMessage, error) {
	n := e.storeNode(name)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	return n.Delta, nil
}

// StoreParents returns the store-scope parent ids for the named store.
func (e *Entry) StoreParents(name string) ([]string, error) {
	n := e.storeNode(name)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	return n.Parents, nil
}

// StoreHeight returns the ordering key of this entry in the named store's
// scope, falling back to the main-line height when the store inherits it.
func (e *Entry) StoreHeight(name string) (uint64, error) {
	n := e.storeNode(name)
	if n == nil {
		return 0, fmt.Errorf("%w: %s", ErrStoreNotFound, name)
	}
	if n.Height != nil {
		return *n.Height, nil
	}
	return e.Height, nil
}

func (e *Entry) storeNode(name string) *StoreNode {
	for i := range e.Stores {
		if e.Stores[i].Name == name {
			return &e.Stores[i]
		}
	}
	return nil
}

// CanonicalBytes returns the deterministic encoding the id is computed from.
// Slices are sorted by the Builder before the entry is frozen, so encoding
// the struct directly is stable.
func (e *Entry) CanonicalBytes() ([]byte, error) {
	return json.Marshal(e)
}

// SigningBytes returns the canonical bytes with the signature zeroed,
// which is the subject of the entry signature.
func (e *Entry) SigningBytes() ([]byte, error) {
	sans := *e
	sans.Signature = nil
	return json.Marshal(&sans)
}

// VerifySignature checks the entry signature against pub.
func (e *Entry) VerifySignature(pub crypto.PubKey) error {
	subject, err := e.SigningBytes()
	if err != nil {
		return err
	}
	ok, err := pub.Verify(subject, e.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return ErrIncorrectSignature
	}
	return nil
}

// Marshal returns the raw exchange form of the entry.
func (e *Entry) Marshal() (*Raw, error) {
	payload, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	return &Raw{Id: e.Id, Payload: payload}, nil
}

// Unmarshal parses a raw entry, verifying that its id matches the payload.
// The signature is verified separately because resolving the authoring key
// requires the settings state at the entry's position in the DAG.
func Unmarshal(raw *Raw) (*Entry, error) {
	if !cidutil.VerifyCid(raw.Payload, raw.Id) {
		return nil, ErrIncorrectCid
	}
	e := &Entry{}
	if err := json.Unmarshal(raw.Payload, e); err != nil {
		return nil, err
	}
	e.Id = raw.Id
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate performs structural checks that need no backend access.
// DAG-level checks (parent resolution, signature) happen at the database
// and backend layers.
func (e *Entry) Validate() error {
	hasRootMarker := e.InStore(RootStore)
	if hasRootMarker && len(e.Parents) > 0 {
		return fmt.Errorf("%w: root entry has parents", ErrInvalidEntry)
	}
	// a root is identified by its own id; carrying another database id would
	// let it masquerade as part of an existing history
	if hasRootMarker && e.Root != "" {
		return fmt.Errorf("%w: root entry carries a database id", ErrInvalidEntry)
	}
	if hasRootMarker && e.Nonce == "" {
		return fmt.Errorf("%w: root entry has no nonce", ErrInvalidEntry)
	}
	if !hasRootMarker && len(e.Parents) == 0 {
		return fmt.Errorf("%w: non-root entry has no parents", ErrInvalidEntry)
	}
	if !hasRootMarker && e.Root == "" {
		return fmt.Errorf("%w: non-root entry has no database id", ErrInvalidEntry)
	}
	for _, p := range e.Parents {
		if p == "" {
			return fmt.Errorf("%w: empty parent id", ErrInvalidEntry)
		}
	}
	for _, n := range e.Stores {
		if n.Name == "" {
			return fmt.Errorf("%w: empty store name", ErrInvalidEntry)
		}
		for _, p := range n.Parents {
			if p == "" {
				return fmt.Errorf("%w: empty store parent id in %q", ErrInvalidEntry, n.Name)
			}
		}
	}
	return nil
}
