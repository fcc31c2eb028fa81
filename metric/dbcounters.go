package metric

import "github.com/prometheus/client_golang/prometheus"

// DBCounters are the database engine counters. All methods are nil-safe so
// the engine can run without a metric component wired in.
type DBCounters struct {
	commits     prometheus.Counter
	aborts      prometheus.Counter
	merges      prometheus.Counter
	imports     prometheus.Counter
	permDenials prometheus.Counter
}

func registerDBCounters(reg *prometheus.Registry) (*DBCounters, error) {
	c := &DBCounters{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "db",
			Name:      "commits_total",
			Help:      "entries committed by local transactions",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "db",
			Name:      "aborts_total",
			Help:      "transactions discarded without commit",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "db",
			Name:      "merges_total",
			Help:      "store state folds not served from cache",
		}),
		imports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "db",
			Name:      "imported_entries_total",
			Help:      "foreign entries accepted from peers",
		}),
		permDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tessera",
			Subsystem: "db",
			Name:      "permission_denials_total",
			Help:      "operations rejected by the auth policy",
		}),
	}
	for _, col := range []prometheus.Collector{c.commits, c.aborts, c.merges, c.imports, c.permDenials} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *DBCounters) Commit() {
	if c != nil {
		c.commits.Inc()
	}
}

func (c *DBCounters) Abort() {
	if c != nil {
		c.aborts.Inc()
	}
}

func (c *DBCounters) Merge() {
	if c != nil {
		c.merges.Inc()
	}
}

func (c *DBCounters) Import() {
	if c != nil {
		c.imports.Inc()
	}
}

func (c *DBCounters) PermissionDenied() {
	if c != nil {
		c.permDenials.Inc()
	}
}
