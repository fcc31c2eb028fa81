package entry

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/tesseradb/tessera/util/cidutil"
	"github.com/tesseradb/tessera/util/crypto"
)

var ErrAlreadyBuilt = errors.New("entry builder is already finalized")

// Builder assembles an Entry. It is the only way to create one: Build sorts
// all id sets, signs the canonical bytes and freezes the result behind a
// content-addressed id.
type Builder struct {
	e     *Entry
	built bool
}

// NewBuilder starts an entry for the database identified by root.
func NewBuilder(root string) *Builder {
	return &Builder{e: &Entry{Root: root}}
}

// NewRootBuilder starts a database root entry. The uuid nonce makes two
// databases created with identical initial settings distinct.
func NewRootBuilder() *Builder {
	b := &Builder{e: &Entry{Nonce: uuid.NewString()}}
	b.SetStoreDelta(RootStore, nil, nil, nil)
	return b
}

// SetParents sets the main-line parent ids (the observed database tips).
func (b *Builder) SetParents(parents []string) *Builder {
	b.e.Parents = append([]string(nil), parents...)
	return b
}

// SetHeight sets the main-line ordering key.
func (b *Builder) SetHeight(h uint64) *Builder {
	b.e.Height = h
	return b
}

// SetKey records the settings name of the authoring key.
func (b *Builder) SetKey(key string) *Builder {
	b.e.Key = key
	return b
}

// SetStoreDelta stages one store's contribution. Passing a nil delta marks
// participation without data. Height overrides the inherited main-line
// height for stores running their own strategy.
func (b *Builder) SetStoreDelta(name string, delta json.RawMessage, parents []string, height *uint64) *Builder {
	node := StoreNode{
		Name:    name,
		Parents: append([]string(nil), parents...),
		Delta:   delta,
		Height:  height,
	}
	for i := range b.e.Stores {
		if b.e.Stores[i].Name == name {
			b.e.Stores[i] = node
			return b
		}
	}
	b.e.Stores = append(b.e.Stores, node)
	return b
}

// Build sorts, signs with key and computes the content address.
// The builder cannot be reused afterwards.
func (b *Builder) Build(key crypto.PrivKey) (*Entry, error) {
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	b.built = true
	e := b.e

	sort.Strings(e.Parents)
	sort.Slice(e.Stores, func(i, j int) bool {
		return e.Stores[i].Name < e.Stores[j].Name
	})
	for i := range e.Stores {
		sort.Strings(e.Stores[i].Parents)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if key != nil {
		subject, err := e.SigningBytes()
		if err != nil {
			return nil, err
		}
		sig, err := key.Sign(subject)
		if err != nil {
			return nil, err
		}
		e.Signature = sig
	}

	canonical, err := e.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	e.Id, err = cidutil.NewCidFromBytes(canonical)
	if err != nil {
		return nil, err
	}
	return e, nil
}
