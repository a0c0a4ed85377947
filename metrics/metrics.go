// Copyright 2017 The Prometheus Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics instruments the storage engine with the same
// prometheus/client_golang counters and gauges the teacher's own tsdb and
// storage packages expose (e.g. tsdb_wal_fsync_duration_seconds,
// tsdb_head_chunks). The query language and HTTP surface are Non-goals,
// but emitting counters from the engine itself is carried regardless.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/gauge the storage engine updates. A nil
// *Metrics is not valid; use NewNop() in tests and code paths that don't
// register with a real registry.
type Metrics struct {
	WalWrites      prometheus.Counter
	WalSyncs       prometheus.Counter
	WalBytes       prometheus.Counter
	ChunkRotations prometheus.Counter
	ActiveChunks   prometheus.Gauge
	SecondaryChunks prometheus.Gauge
	IndexerLookups prometheus.Counter
	IndexerHits    prometheus.Counter
	KVGets         prometheus.Counter
	KVSets         prometheus.Counter
	WriteFailures  prometheus.Counter
}

// New registers and returns a Metrics bound to reg, namespaced "tsdb" to
// match the teacher's own metric naming convention.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WalWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "wal", Name: "writes_total",
			Help: "Total number of WAL entries written.",
		}),
		WalSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "wal", Name: "syncs_total",
			Help: "Total number of WAL flush+fsync operations.",
		}),
		WalBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "wal", Name: "written_bytes_total",
			Help: "Total bytes written to WAL segments.",
		}),
		ChunkRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "chunk", Name: "rotations_total",
			Help: "Total number of chunk rotations performed.",
		}),
		ActiveChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsdb", Subsystem: "chunk", Name: "active",
			Help: "Always 1 once the database has an active chunk.",
		}),
		SecondaryChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tsdb", Subsystem: "chunk", Name: "secondaries",
			Help: "Number of read-only secondary chunks held in memory.",
		}),
		IndexerLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "index", Name: "lookups_total",
			Help: "Total number of label-set lookups against the indexer.",
		}),
		IndexerHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "index", Name: "hits_total",
			Help: "Total number of label-set lookups that found an existing series id.",
		}),
		KVGets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "kv", Name: "gets_total",
			Help: "Total number of kv.Backend Get calls.",
		}),
		KVSets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "kv", Name: "sets_total",
			Help: "Total number of kv.Backend Set calls.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tsdb", Subsystem: "db", Name: "write_failures_total",
			Help: "Total number of individual point inserts that failed in write_points.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.WalWrites, m.WalSyncs, m.WalBytes, m.ChunkRotations,
			m.ActiveChunks, m.SecondaryChunks, m.IndexerLookups, m.IndexerHits,
			m.KVGets, m.KVSets, m.WriteFailures,
		)
	}
	return m
}

// NewNop returns a Metrics whose instruments are never registered with any
// registry, for tests and for callers that don't want metrics exported.
func NewNop() *Metrics {
	return New(nil)
}
