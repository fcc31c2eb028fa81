// Package auth models authoring keys and their grants. Keys live as
// ordinary document values inside the settings store, so policy state
// converges through the same CRDT merge as any other data.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/util/crypto"
)

var (
	ErrPermissionDenied = errors.New("key has insufficient permission")
	ErrNoSuchKey        = errors.New("key is not registered in settings")
	ErrMalformedKey     = errors.New("malformed key record in settings")
	ErrInvalidKeyName   = errors.New("invalid key name")
)

// ValidateKeyName rejects names that cannot address a single settings
// record: the empty name and names containing the document path separator,
// which would scatter the record across nested paths.
func ValidateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidKeyName)
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKeyName, name)
	}
	return nil
}

// Status of a registered key. Revocation is one-way through the standard
// API: the settings store refuses to flip a revoked key back to active.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// PermissionKind is the grant level of a key.
type PermissionKind string

const (
	// PermWrite allows committing data entries.
	PermWrite PermissionKind = "write"
	// PermAdmin additionally allows editing settings, including key policy.
	PermAdmin PermissionKind = "admin"
)

// Permission couples a grant with its priority. Priority resolves
// same-kind conflicts between admins: a lower number is more privileged,
// and an admin may only modify keys of equal or higher priority number.
type Permission struct {
	Kind     PermissionKind
	Priority int64
}

// Key is one authoring key record from the settings store.
type Key struct {
	Name       string
	PubKey     crypto.PubKey
	Status     Status
	Permission Permission
}

// Value encodes the key record as a settings document value.
func (k *Key) Value() crdt.Value {
	return crdt.Map(map[string]crdt.Value{
		"pub":      crdt.String(k.PubKey.Account()),
		"status":   crdt.String(string(k.Status)),
		"perm":     crdt.String(string(k.Permission.Kind)),
		"priority": crdt.Int(k.Permission.Priority),
	})
}

// KeyFromValue decodes a key record from its settings document value.
func KeyFromValue(name string, v crdt.Value) (*Key, error) {
	m, err := v.MapValue()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedKey, name, err)
	}
	get := func(field string) (string, error) {
		fv, ok := m[field]
		if !ok {
			return "", fmt.Errorf("%w: %s misses %q", ErrMalformedKey, name, field)
		}
		return fv.StringValue()
	}
	account, err := get("pub")
	if err != nil {
		return nil, err
	}
	pub, err := crypto.DecodeAccount(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedKey, name, err)
	}
	status, err := get("status")
	if err != nil {
		return nil, err
	}
	perm, err := get("perm")
	if err != nil {
		return nil, err
	}
	var priority int64
	if pv, ok := m["priority"]; ok {
		if priority, err = pv.IntValue(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedKey, name, err)
		}
	}
	switch Status(status) {
	case StatusActive, StatusRevoked:
	default:
		return nil, fmt.Errorf("%w: %s has unknown status %q", ErrMalformedKey, name, status)
	}
	switch PermissionKind(perm) {
	case PermWrite, PermAdmin:
	default:
		return nil, fmt.Errorf("%w: %s has unknown permission %q", ErrMalformedKey, name, perm)
	}
	return &Key{
		Name:       name,
		PubKey:     pub,
		Status:     Status(status),
		Permission: Permission{Kind: PermissionKind(perm), Priority: priority},
	}, nil
}
