package database

import (
	"context"

	"github.com/tesseradb/tessera/app"
	"github.com/tesseradb/tessera/backend"
	"github.com/tesseradb/tessera/crdt"
	"github.com/tesseradb/tessera/entry"
	"github.com/tesseradb/tessera/metric"
	"github.com/tesseradb/tessera/util/crypto"
)

const CName = "database"

func NewService() Service {
	return new(service)
}

// Service is the app component that opens databases over the registered
// backend, wiring the metric component in when one is present.
type Service interface {
	Create(ctx context.Context, key crypto.PrivKey, keyName, dbName string, strategy crdt.HeightStrategy) (*Database, error)
	Open(ctx context.Context, rootId string, key crypto.PrivKey, keyName string) (*Database, error)
	Bootstrap(ctx context.Context, raw *entry.Raw, key crypto.PrivKey, keyName string) (*Database, error)
	ListDatabases(ctx context.Context) ([]string, error)
	app.Component
}

type service struct {
	backend backend.Backend
	metric  metric.Metric
}

func (s *service) Init(a *app.App) (err error) {
	s.backend = a.MustComponent(backend.CName).(backend.Backend)
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		s.metric = m
	}
	return nil
}

func (s *service) Name() string {
	return CName
}

func (s *service) Create(ctx context.Context, key crypto.PrivKey, keyName, dbName string, strategy crdt.HeightStrategy) (*Database, error) {
	return Create(ctx, s.backend, key, keyName, dbName, strategy, WithMetric(s.metric))
}

func (s *service) Open(ctx context.Context, rootId string, key crypto.PrivKey, keyName string) (*Database, error) {
	return Open(ctx, s.backend, rootId, key, keyName, WithMetric(s.metric))
}

func (s *service) Bootstrap(ctx context.Context, raw *entry.Raw, key crypto.PrivKey, keyName string) (*Database, error) {
	return Bootstrap(ctx, s.backend, raw, key, keyName, WithMetric(s.metric))
}

func (s *service) ListDatabases(ctx context.Context) ([]string, error) {
	return s.backend.AllRoots(ctx)
}
