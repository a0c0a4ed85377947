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

// Package index implements the per-chunk label indexer (spec §4.D): the
// three bidirectional mappings between label sets and series ids, and the
// bounded-parallel posting-list intersection used to answer label queries.
// The key layout mirrors teacher's tsdb/index.go three-space convention
// (symbols/series/postings) collapsed onto a flat kv.Backend.
package index

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/kv"
	"github.com/flowmetric/tsdb/labels"
	"github.com/flowmetric/tsdb/metrics"
)

// parallelThreshold is the minimum number of posting lists before
// intersectAll splits the work across goroutines; below it the
// single-goroutine fallback is cheaper than the split overhead.
const parallelThreshold = 4

// Index is a label indexer bound to one kv.Backend, optionally namespaced
// for a shared remote backend (spec §4.D "indexer_identifier").
type Index struct {
	backend   kv.Backend
	namespace []byte
	metrics   *metrics.Metrics
}

// Option configures New.
type Option func(*Index)

// WithMetrics attaches a metrics bundle; defaults to an unregistered one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(x *Index) { x.metrics = m }
}

// New returns an Index over backend. namespace should be nil for an
// embedded per-chunk backend, or the chunk's 16-byte indexer identifier
// for a shared remote backend.
func New(backend kv.Backend, namespace []byte, opts ...Option) *Index {
	x := &Index{backend: backend, namespace: namespace, metrics: metrics.NewNop()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Close releases the backend this index is bound to.
func (x *Index) Close() error {
	return x.backend.Close()
}

func (x *Index) ns(key string) []byte {
	if len(x.namespace) == 0 {
		return []byte(key)
	}
	out := make([]byte, 0, len(x.namespace)+len(key))
	out = append(out, x.namespace...)
	out = append(out, key...)
	return out
}

func postingKey(l labels.Label) string {
	return "LR" + l.Name + "=" + l.Value
}

func fullSetKey(ls labels.Labels) string {
	return labels.Encode(ls, true)
}

func idKey(id uint64) string {
	return "I" + strconv.FormatUint(id, 10)
}

// maxIDKey tracks the highest id ever registered in this index, so a
// recovered (closed) chunk can resume id assignment above every id already
// on disk instead of colliding with one during WAL replay of a series the
// crash never got to persist (spec §3: ids strictly increasing per chunk).
// "N" cannot collide with the "LR"/"L"/"I" prefixed spaces.
const maxIDKey = "N"

func encodeIDs(ids []uint64) []byte {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatUint(id, 10)
	}
	return []byte(strings.Join(strs, ","))
}

func decodeIDs(raw []byte) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	parts := strings.Split(string(raw), ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// CreateIndex registers a newly-assigned series: appends id to every
// label's reverse posting list, and sets the full-set->id and id->full-set
// entries. Fails with Internal if the exact label set was already
// registered (duplicate registration, spec §4.D).
func (x *Index) CreateIndex(ctx context.Context, ls labels.Labels, id uint64) error {
	fsKey := x.ns(fullSetKey(ls))
	if _, ok, err := x.backend.Get(ctx, fsKey); err != nil {
		return err
	} else if ok {
		return errs.Internal("index: duplicate registration for label set %s", labels.Encode(ls, false))
	}

	for _, l := range ls {
		key := x.ns(postingKey(l))
		raw, _, err := x.backend.Get(ctx, key)
		if err != nil {
			return err
		}
		ids := decodeIDs(raw)
		// ids stay sorted because id generation is monotonic per chunk.
		ids = append(ids, id)
		if err := x.backend.Set(ctx, key, encodeIDs(ids)); err != nil {
			return err
		}
	}

	if err := x.backend.Set(ctx, fsKey, []byte(strconv.FormatUint(id, 10))); err != nil {
		return err
	}
	if err := x.backend.Set(ctx, x.ns(idKey(id)), []byte(labels.Encode(ls, false))); err != nil {
		return err
	}
	return x.bumpMaxID(ctx, id)
}

func (x *Index) bumpMaxID(ctx context.Context, id uint64) error {
	cur, err := x.MaxID(ctx)
	if err != nil {
		return err
	}
	if id <= cur {
		return nil
	}
	return x.backend.Set(ctx, x.ns(maxIDKey), []byte(strconv.FormatUint(id, 10)))
}

// MaxID returns the highest series id ever registered in this index, or 0
// if none has been (spec §3: ids start at 1, so 0 means "none assigned").
func (x *Index) MaxID(ctx context.Context) (uint64, error) {
	raw, ok, err := x.backend.Get(ctx, x.ns(maxIDKey))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, errs.Parse(err, "index: corrupt max-id counter")
	}
	return v, nil
}

// GetIDByLabels returns the id of the series with exactly this label set,
// if any.
func (x *Index) GetIDByLabels(ctx context.Context, ls labels.Labels) (uint64, bool, error) {
	x.metrics.IndexerLookups.Inc()
	raw, ok, err := x.backend.Get(ctx, x.ns(fullSetKey(ls)))
	if err != nil || !ok {
		return 0, false, err
	}
	x.metrics.IndexerHits.Inc()
	id, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false, errs.Parse(err, "index: corrupt full-set entry")
	}
	return id, true, nil
}

// GetIDsContaining returns the sorted intersection of every label's
// posting list (spec §4.D). An empty Labels set matches nothing.
func (x *Index) GetIDsContaining(ctx context.Context, ls labels.Labels) ([]uint64, error) {
	if len(ls) == 0 {
		return nil, nil
	}
	lists := make([][]uint64, len(ls))
	for i, l := range ls {
		raw, _, err := x.backend.Get(ctx, x.ns(postingKey(l)))
		if err != nil {
			return nil, err
		}
		lists[i] = decodeIDs(raw)
	}
	return intersectAll(ctx, lists)
}

// intersectAll merges sorted posting lists two at a time, splitting the
// input in half and evaluating both halves concurrently once there are
// enough lists to make that worthwhile (spec §4.D).
func intersectAll(ctx context.Context, lists [][]uint64) ([]uint64, error) {
	switch len(lists) {
	case 0:
		return nil, nil
	case 1:
		return lists[0], nil
	}
	if len(lists) < parallelThreshold {
		result := lists[0]
		for _, l := range lists[1:] {
			result = intersectTwo(result, l)
		}
		return result, nil
	}

	mid := len(lists) / 2
	var left, right []uint64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		left, err = intersectAll(gctx, lists[:mid])
		return err
	})
	g.Go(func() error {
		var err error
		right, err = intersectAll(gctx, lists[mid:])
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return intersectTwo(left, right), nil
}

// intersectTwo merges two ascending-sorted id lists with a two-pointer scan.
func intersectTwo(a, b []uint64) []uint64 {
	out := make([]uint64, 0, minInt(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SeriesMetadata is an (id, Labels) pair returned by
// GetSeriesMetadataContaining.
type SeriesMetadata struct {
	ID     uint64
	Labels labels.Labels
}

// GetSeriesMetadataContaining is GetIDsContaining joined with the
// id->label-set mapping (spec §4.D).
func (x *Index) GetSeriesMetadataContaining(ctx context.Context, ls labels.Labels) ([]SeriesMetadata, error) {
	ids, err := x.GetIDsContaining(ctx, ls)
	if err != nil {
		return nil, err
	}
	out := make([]SeriesMetadata, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := x.backend.Get(ctx, x.ns(idKey(id)))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, SeriesMetadata{ID: id, Labels: labels.Decode(string(raw))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
