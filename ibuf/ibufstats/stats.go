// Package ibufstats exports Buffer operation counters through
// Prometheus, mirroring the teacher's stats/common_prom.go pattern of
// registering a small set of counters/gauges against a
// *prometheus.Registry the caller owns - this module never starts an
// HTTP listener itself; exposing /metrics is left to the embedding
// application.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package ibufstats

import "github.com/prometheus/client_golang/prometheus"

// Tracker holds the counters and gauges a Buffer updates as it runs.
type Tracker struct {
	Pushes        prometheus.Counter
	PushRejected  prometheus.Counter
	Evictions     prometheus.Counter
	OrphansHealed prometheus.Counter
	Deletes       prometheus.Counter
	StoreBytes    prometheus.Gauge
}

// New creates a Tracker and registers it against reg. namespace/subsystem
// follow the teacher's convention of prefixing every metric with the
// owning component (compare: stats/common_prom.go's ConstlabNode label).
func New(reg prometheus.Registerer, namespace, subsystem string) *Tracker {
	t := &Tracker{
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "pushes_total",
			Help: "Successful Push calls (including compensated inserts).",
		}),
		PushRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "push_rejected_total",
			Help: "Push calls that returned false (bad source, no evictable candidate, or a store/catalog error).",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "evictions_total",
			Help: "Artifacts evicted to make room for a Push.",
		}),
		OrphansHealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "orphans_healed_total",
			Help: "Catalog rows removed after their backing file was found missing.",
		}),
		Deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "deletes_total",
			Help: "Explicit Delete calls that removed a record.",
		}),
		StoreBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "store_bytes",
			Help: "Cached total size of the store, in bytes, as adjusted by ingests and deletes since the last recompute.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.Pushes, t.PushRejected, t.Evictions, t.OrphansHealed, t.Deletes, t.StoreBytes)
	}
	return t
}
