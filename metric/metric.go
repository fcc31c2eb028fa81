package metric

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tesseradb/tessera/app"
	"github.com/tesseradb/tessera/app/logger"
)

const CName = "common.metric"

var log = logger.NewNamed(CName)

func New() Metric {
	return new(metric)
}

type Metric interface {
	Registry() *prometheus.Registry
	DB() *DBCounters
	app.ComponentRunnable
}

// Config configures the optional /metrics endpoint. An empty Addr keeps the
// registry in-process only.
type Config struct {
	Addr string
}

type configSource interface {
	GetMetric() Config
}

type metric struct {
	registry *prometheus.Registry
	config   Config
	db       *DBCounters
}

func (m *metric) Init(a *app.App) (err error) {
	m.registry = prometheus.NewRegistry()
	if cs, ok := a.Component("config").(configSource); ok {
		m.config = cs.GetMetric()
	}
	m.db, err = registerDBCounters(m.registry)
	return err
}

func (m *metric) Name() string {
	return CName
}

func (m *metric) Run(ctx context.Context) (err error) {
	if err = m.registry.Register(collectors.NewBuildInfoCollector()); err != nil {
		return err
	}
	if err = m.registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if m.config.Addr != "" {
		var errCh = make(chan error)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
		go func() {
			errCh <- http.ListenAndServe(m.config.Addr, mux)
		}()
		select {
		case err = <-errCh:
		case <-time.After(time.Second / 5):
		}
		if err != nil {
			log.Error("can't serve metrics", zap.String("addr", m.config.Addr), zap.Error(err))
		}
	}
	return
}

func (m *metric) Registry() *prometheus.Registry {
	return m.registry
}

func (m *metric) DB() *DBCounters {
	return m.db
}

func (m *metric) Close(ctx context.Context) (err error) {
	return
}
