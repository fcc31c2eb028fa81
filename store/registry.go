package store

import (
	"context"
	"fmt"

	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
)

const (
	typeIdField = "type_id"
	configField = "config"
)

// Record is one registry entry: the store's type tag plus free-form
// configuration written by the application.
type Record struct {
	TypeId string
	Config crdt.Value
}

// Registry is the handle over the index store. Every user store is recorded
// here on first open; system stores never self-register.
type Registry struct {
	op Op
}

func NewRegistry(op Op) *Registry {
	return &Registry{op: op}
}

func (r *Registry) Name() string {
	return entry.IndexStore
}

func (r *Registry) TypeId() string {
	return RegistryType
}

// Register records name under typeId. Registering an already recorded store
// is a no-op when the type matches and ErrStoreTypeMismatch when it does not.
func (r *Registry) Register(ctx context.Context, name, typeId string) error {
	if entry.IsSystemStore(name) {
		return nil
	}
	if err := validateName(name); err != nil {
		return err
	}
	state, err := r.op.DocState(ctx, entry.IndexStore)
	if err != nil {
		return err
	}
	if v, ok := state.Get(name + "." + typeIdField); ok {
		existing, err := v.StringValue()
		if err != nil {
			return err
		}
		if existing != typeId {
			return fmt.Errorf("%w: %s is registered as %s, requested %s", ErrStoreTypeMismatch, name, existing, typeId)
		}
		return nil
	}
	return r.op.StageDocPath(ctx, entry.IndexStore, name+"."+typeIdField, crdt.String(typeId))
}

// Record returns the registry record for name.
func (r *Registry) Record(ctx context.Context, name string) (Record, error) {
	state, err := r.op.DocState(ctx, entry.IndexStore)
	if err != nil {
		return Record{}, err
	}
	v, ok := state.Get(name + "." + typeIdField)
	if !ok {
		return Record{}, fmt.Errorf("%w: store %q not registered", crdt.ErrNotFound, name)
	}
	typeId, err := v.StringValue()
	if err != nil {
		return Record{}, err
	}
	rec := Record{TypeId: typeId}
	if cfg, ok := state.Get(name + "." + configField); ok {
		rec.Config = cfg
	}
	return rec, nil
}

// SetConfig stages free-form configuration for a registered store.
func (r *Registry) SetConfig(ctx context.Context, name string, config crdt.Value) error {
	if _, err := r.Record(ctx, name); err != nil {
		return err
	}
	return r.op.StageDocPath(ctx, entry.IndexStore, name+"."+configField, config)
}

// Stores returns all registered stores by name.
func (r *Registry) Stores(ctx context.Context) (map[string]Record, error) {
	state, err := r.op.DocState(ctx, entry.IndexStore)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record)
	for _, name := range state.Keys("") {
		rec, err := r.Record(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = rec
	}
	return out, nil
}
