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

// Package store implements the per-chunk sample store (spec §4.C): a
// per-series append-only byte sequence of (timestamp, value) pairs with a
// monotonic-write precondition and binary-search range trimming.
package store

import (
	"context"
	"encoding/binary"
	"math"
	"sort"

	"github.com/flowmetric/tsdb/chunkenc"
	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/kv"
)

const pointSize = 16 // 8-byte BE timestamp + 8-byte IEEE-754 value

// keyPrefix is the ASCII key prefix for an embedded backend (spec §6:
// "TS{id}"). Remote backends additionally namespace with a 16-byte
// storage identifier ahead of this.
const keyPrefix = "TS"

// Store is a sample store bound to one kv.Backend, optionally namespaced
// by a storage identifier for shared remote backends.
type Store struct {
	backend   kv.Backend
	namespace []byte // empty for embedded backends; 16-byte uuid for remote
}

// New returns a Store over backend. namespace should be nil/empty for an
// embedded per-chunk backend, or the chunk's 16-byte storage identifier
// for a shared remote backend (spec §4.C).
func New(backend kv.Backend, namespace []byte) *Store {
	return &Store{backend: backend, namespace: namespace}
}

func (s *Store) key(id uint64) []byte {
	if len(s.namespace) > 0 {
		// Shared KV keys: {storage_identifier}{id_be} (spec §6).
		k := make([]byte, len(s.namespace)+8)
		copy(k, s.namespace)
		binary.BigEndian.PutUint64(k[len(s.namespace):], id)
		return k
	}
	k := make([]byte, 0, len(keyPrefix)+20)
	k = append(k, keyPrefix...)
	k = appendUint(k, id)
	return k
}

func appendUint(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	return append(dst, tmp[i:]...)
}

func encodePoint(ts uint64, value float64) []byte {
	b := make([]byte, pointSize)
	binary.BigEndian.PutUint64(b[0:8], ts)
	binary.BigEndian.PutUint64(b[8:16], math.Float64bits(value))
	return b
}

func decodePoint(b []byte) chunkenc.TimePoint {
	ts := binary.BigEndian.Uint64(b[0:8])
	v := math.Float64frombits(binary.BigEndian.Uint64(b[8:16]))
	return chunkenc.TimePoint{Ts: ts, Value: v}
}

func decodeSeries(raw []byte) []chunkenc.TimePoint {
	n := len(raw) / pointSize
	out := make([]chunkenc.TimePoint, n)
	for i := 0; i < n; i++ {
		out[i] = decodePoint(raw[i*pointSize : (i+1)*pointSize])
	}
	return out
}

// WritePoint appends (ts,value) to id's series. Fails if ts <= the last
// stored timestamp for id (spec §4.C monotonic precondition).
func (s *Store) WritePoint(ctx context.Context, id uint64, ts uint64, value float64) error {
	key := s.key(id)
	existing, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok && len(existing) > 0 {
		lastTs := binary.BigEndian.Uint64(existing[len(existing)-pointSize : len(existing)-pointSize+8])
		if ts <= lastTs {
			return errs.Internal("store: write_point: ts %d <= last stored ts %d for id %d", ts, lastTs, id)
		}
	}
	buf := make([]byte, 0, len(existing)+pointSize)
	buf = append(buf, existing...)
	buf = append(buf, encodePoint(ts, value)...)
	return s.backend.Set(ctx, key, buf)
}

// ReadRange returns the decoded points for id whose timestamps lie within
// [start,end]. Fails with NotFound if id is unknown, OutOfRange(first,last)
// if the stored series doesn't overlap [start,end] at all.
func (s *Store) ReadRange(ctx context.Context, id uint64, start, end uint64) ([]chunkenc.TimePoint, error) {
	raw, ok, err := s.backend.Get(ctx, s.key(id))
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, errs.NotFound("store: no series for id %d", id)
	}
	series := decodeSeries(raw)
	first, last := series[0].Ts, series[len(series)-1].Ts
	if last < start || first > end {
		return nil, errs.OutOfRange(first, last)
	}
	return trim(series, start, end), nil
}

// Close releases the backend this store is bound to.
func (s *Store) Close() error {
	return s.backend.Close()
}

// trim selects the subrange of a timestamp-sorted series within [start,end]
// via binary search: the left bound is the first ts >= start, the right
// bound is the last ts <= end (spec §4.C).
func trim(series []chunkenc.TimePoint, start, end uint64) []chunkenc.TimePoint {
	lo := sort.Search(len(series), func(i int) bool { return series[i].Ts >= start })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Ts > end })
	if lo >= hi {
		return nil
	}
	out := make([]chunkenc.TimePoint, hi-lo)
	copy(out, series[lo:hi])
	return out
}
