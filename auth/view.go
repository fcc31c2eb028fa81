package auth

import (
	"fmt"

	"github.com/tesseradb/tessera/crdt"
)

// Settings store paths. The auth policy is a plain document subtree.
const (
	NamePath     = "name"
	StrategyPath = "height_strategy"
	KeysPath     = "auth"
)

// View is a read-only interpretation of one merged settings state.
// Transactions snapshot it at open: a concurrent revocation does not
// invalidate an in-flight commit, but gates every transaction opened after.
type View struct {
	keys     map[string]*Key
	strategy crdt.HeightStrategy
	name     string
}

// NewView interprets a merged settings state.
func NewView(state *crdt.DocState) (*View, error) {
	v := &View{keys: make(map[string]*Key), strategy: crdt.Incremental}
	if nameVal, ok := state.Get(NamePath); ok {
		name, err := nameVal.StringValue()
		if err != nil {
			return nil, err
		}
		v.name = name
	}
	if stratVal, ok := state.Get(StrategyPath); ok {
		name, err := stratVal.StringValue()
		if err != nil {
			return nil, err
		}
		if v.strategy, err = crdt.ParseHeightStrategy(name); err != nil {
			return nil, err
		}
	}
	for _, keyName := range state.Keys(KeysPath) {
		kv, ok := state.Get(KeysPath + "." + keyName)
		if !ok {
			continue
		}
		key, err := KeyFromValue(keyName, kv)
		if err != nil {
			return nil, err
		}
		v.keys[keyName] = key
	}
	return v, nil
}

// DatabaseName returns the database display name recorded in settings.
func (v *View) DatabaseName() string {
	return v.name
}

// HeightStrategy returns the database-wide strategy.
func (v *View) HeightStrategy() crdt.HeightStrategy {
	return v.strategy
}

// Key returns a registered key by its settings name.
func (v *View) Key(name string) (*Key, bool) {
	k, ok := v.keys[name]
	return k, ok
}

// KeyNames returns the names of all registered keys.
func (v *View) KeyNames() []string {
	names := make([]string, 0, len(v.keys))
	for name := range v.keys {
		names = append(names, name)
	}
	return names
}

// CheckWrite fails closed unless the named key is active with at least a
// write grant.
func (v *View) CheckWrite(name string) error {
	return v.check(name, PermWrite)
}

// CheckAdmin fails closed unless the named key is an active admin.
func (v *View) CheckAdmin(name string) error {
	return v.check(name, PermAdmin)
}

func (v *View) check(name string, want PermissionKind) error {
	k, ok := v.keys[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchKey, name)
	}
	if k.Status != StatusActive {
		return fmt.Errorf("%w: %s is revoked", ErrPermissionDenied, name)
	}
	if want == PermAdmin && k.Permission.Kind != PermAdmin {
		return fmt.Errorf("%w: %s is not an admin", ErrPermissionDenied, name)
	}
	return nil
}

// CheckModifyKey verifies that actor may edit target's record: the actor
// must be an active admin and at least as privileged (a lower priority
// number outranks a higher one).
func (v *View) CheckModifyKey(actor, target string) error {
	if err := v.CheckAdmin(actor); err != nil {
		return err
	}
	actorKey := v.keys[actor]
	if targetKey, ok := v.keys[target]; ok {
		if targetKey.Permission.Priority < actorKey.Permission.Priority {
			return fmt.Errorf("%w: %s outranks %s", ErrPermissionDenied, target, actor)
		}
	}
	return nil
}
