package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/tesseradb/tessera/auth"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
)

// Settings is the handle over the settings store: database metadata plus the
// auth key policy. All edits staged through one handle land in a single
// delta, so a policy change commits atomically.
type Settings struct {
	op Op
}

func NewSettings(op Op) *Settings {
	return &Settings{op: op}
}

func (s *Settings) Name() string {
	return entry.SettingsStore
}

func (s *Settings) TypeId() string {
	return SettingsType
}

func (s *Settings) state(ctx context.Context) (*crdt.DocState, error) {
	return s.op.DocState(ctx, entry.SettingsStore)
}

// DatabaseName returns the configured database name, empty when unset.
func (s *Settings) DatabaseName(ctx context.Context) (string, error) {
	state, err := s.state(ctx)
	if err != nil {
		return "", err
	}
	v, ok := state.Get(auth.NamePath)
	if !ok {
		return "", nil
	}
	return v.StringValue()
}

func (s *Settings) SetDatabaseName(ctx context.Context, name string) error {
	return s.op.StageDocPath(ctx, entry.SettingsStore, auth.NamePath, crdt.String(name))
}

// HeightStrategy returns the configured strategy, Incremental when unset.
func (s *Settings) HeightStrategy(ctx context.Context) (crdt.HeightStrategy, error) {
	state, err := s.state(ctx)
	if err != nil {
		return crdt.Incremental, err
	}
	v, ok := state.Get(auth.StrategyPath)
	if !ok {
		return crdt.Incremental, nil
	}
	raw, err := v.StringValue()
	if err != nil {
		return crdt.Incremental, err
	}
	return crdt.ParseHeightStrategy(raw)
}

func (s *Settings) SetHeightStrategy(ctx context.Context, strategy crdt.HeightStrategy) error {
	return s.op.StageDocPath(ctx, entry.SettingsStore, auth.StrategyPath, crdt.String(strategy.String()))
}

// AuthKey returns the key record under name, auth.ErrNoSuchKey when absent.
func (s *Settings) AuthKey(ctx context.Context, name string) (*auth.Key, error) {
	state, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := state.Get(auth.KeysPath + "." + name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", auth.ErrNoSuchKey, name)
	}
	return auth.KeyFromValue(name, v)
}

// AuthKeys returns all key records, revoked ones included, sorted by name.
func (s *Settings) AuthKeys(ctx context.Context) ([]*auth.Key, error) {
	state, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	names := state.Keys(auth.KeysPath)
	sort.Strings(names)
	keys := make([]*auth.Key, 0, len(names))
	for _, name := range names {
		key, err := s.AuthKey(ctx, name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// SetAuthKey stages a key record. Revocation is one way: once a key is
// revoked, staging it back to active fails with ErrKeyRevoked. Replication
// can still race two admins editing the same key concurrently; merge then
// settles it last-writer-wins like any other settings write.
func (s *Settings) SetAuthKey(ctx context.Context, key *auth.Key) error {
	if err := auth.ValidateKeyName(key.Name); err != nil {
		return err
	}
	if key.PubKey == nil {
		return fmt.Errorf("%w: incomplete key record", auth.ErrMalformedKey)
	}
	state, err := s.state(ctx)
	if err != nil {
		return err
	}
	if v, ok := state.Get(auth.KeysPath + "." + key.Name); ok {
		existing, err := auth.KeyFromValue(key.Name, v)
		if err != nil {
			return err
		}
		if existing.Status == auth.StatusRevoked && key.Status != auth.StatusRevoked {
			return fmt.Errorf("%w: %s", ErrKeyRevoked, key.Name)
		}
	}
	return s.op.StageDocPath(ctx, entry.SettingsStore, auth.KeysPath+"."+key.Name, key.Value())
}

// RevokeKey stages a revocation of name. Revoking an already revoked key is
// a no-op.
func (s *Settings) RevokeKey(ctx context.Context, name string) error {
	key, err := s.AuthKey(ctx, name)
	if err != nil {
		return err
	}
	if key.Status == auth.StatusRevoked {
		return nil
	}
	key.Status = auth.StatusRevoked
	return s.op.StageDocPath(ctx, entry.SettingsStore, auth.KeysPath+"."+name, key.Value())
}
