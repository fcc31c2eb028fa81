package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tesseradb/tessera/crdt"
)

var (
	ErrStoreTypeMismatch = errors.New("store type mismatch")
	ErrReservedName      = errors.New("store name is reserved")
	ErrInvalidName       = errors.New("invalid store name")
	ErrInvalidPath       = errors.New("invalid document path")
	ErrKeyRevoked        = errors.New("auth key is revoked")
)

// Type tags recorded in the registry. The version suffix changes when the
// delta format of the store type changes incompatibly.
const (
	DocStoreType = "docstore:v1"
	TableType    = "table:v1"
	SettingsType = "settings:v1"
	RegistryType = "registry:v1"
)

// Store is the common surface of all typed store handles.
type Store interface {
	Name() string
	TypeId() string
}

// Op is the narrow staging surface a transaction exposes to store handles.
// Reads return the merged state at the transaction snapshot with the
// transaction's own staged writes layered in, so handles always read their
// own writes. Staged writes for one store accumulate into a single delta.
type Op interface {
	StageDocPath(ctx context.Context, store, path string, v crdt.Value) error
	StageTableRow(ctx context.Context, store, rowId string, row crdt.Row) error
	DocState(ctx context.Context, store string) (*crdt.DocState, error)
	TableState(ctx context.Context, store string) (*crdt.TableState, error)
}

// validateName rejects names that would collide with system stores or break
// dotted-path addressing inside the registry document.
func validateName(name string) error {
	if name == "" || strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, "_") {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return nil
}
