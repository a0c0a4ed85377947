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

// Package chunk binds one label indexer and one sample store to a single
// time window, enforcing range, locks and open/closed state (spec §4.F).
// Grounded on the original source's src/chunk/chunk.rs (the most-repeated
// file in the retrieval set) for the bound-indexer/bound-store/window-check
// shape, and on teacher's directory-per-component convention.
package chunk

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/flowmetric/tsdb/chunkenc"
	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/index"
	"github.com/flowmetric/tsdb/labels"
	"github.com/flowmetric/tsdb/store"
)

// WalAppender is the subset of wal.Manager a chunk needs: every insert is
// WAL-protected before it touches the indexer or sample store. The WAL
// itself lives at the database level (spec §6: a single "wal/" directory
// under base), so a chunk only holds a handle into it.
type WalAppender interface {
	Append(kind byte, payload []byte) (uint64, error)
}

// EntryKindInsert tags a WAL entry that records one (labels, ts, value)
// insert.
const EntryKindInsert byte = 1

// Chunk is one time-bounded partition.
type Chunk struct {
	mu sync.RWMutex

	start, end uint64
	identifier [16]byte
	closed     bool
	nextID     uint64

	wal   WalAppender
	idx   *index.Index
	store *store.Store

	// idxShared/storeShared say whether the indexer/store backend is a
	// shared remote one. A shared backend is not closed by CloseBackends:
	// closing one chunk must not sever every other chunk's access to the
	// same TiKV client (spec §4.H, §9).
	idxShared   bool
	storeShared bool

	dir string
}

// Config bundles the collaborators New binds together.
type Config struct {
	Start, End uint64
	Identifier [16]byte
	Dir        string
	Wal        WalAppender
	Index      *index.Index
	Store      *store.Store
	// NextID is the first id the chunk assigns to a new series; 1 for a
	// freshly created chunk, or the next free id when recovering one with
	// existing series (spec §3: TimeSeriesId starts at 1, 0 reserved).
	NextID uint64
	Closed bool
	// IdxShared/StoreShared mark Index/Store as bound to a shared remote
	// backend; leave false (the default) for a per-chunk embedded or
	// in-memory backend that this chunk alone owns.
	IdxShared   bool
	StoreShared bool
}

// New constructs a Chunk from cfg. Used both for freshly rotated chunks
// (Closed=false, NextID=1) and for chunks reconstructed at recovery
// (Closed=true, NextID = max existing id + 1).
func New(cfg Config) *Chunk {
	if cfg.NextID == 0 {
		cfg.NextID = 1
	}
	return &Chunk{
		start:       cfg.Start,
		end:         cfg.End,
		identifier:  cfg.Identifier,
		closed:      cfg.Closed,
		nextID:      cfg.NextID,
		wal:         cfg.Wal,
		idx:         cfg.Index,
		store:       cfg.Store,
		dir:         cfg.Dir,
		idxShared:   cfg.IdxShared,
		storeShared: cfg.StoreShared,
	}
}

// Start/End/Identifier/Dir are read-only accessors; the window never
// changes except by Close clamping End.
func (c *Chunk) Start() uint64        { return c.start }
func (c *Chunk) End() uint64          { return c.end }
func (c *Chunk) Identifier() [16]byte { return c.identifier }
func (c *Chunk) Dir() string          { return c.dir }

// IsClosed reports whether the chunk currently rejects writes.
func (c *Chunk) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// InRange reports whether ts falls in the chunk's half-open window
// [start,end) (spec §9: half-open, not the original's exclusive-both-ends
// semantics).
func (c *Chunk) InRange(ts uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ts >= c.start && ts < c.end
}

func encodeInsertEntry(ls labels.Labels, ts uint64, value float64) []byte {
	enc := labels.Encode(ls, false)
	buf := make([]byte, 2+len(enc)+8+8)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(enc)))
	copy(buf[2:2+len(enc)], enc)
	off := 2 + len(enc)
	binary.BigEndian.PutUint64(buf[off:off+8], ts)
	binary.BigEndian.PutUint64(buf[off+8:off+16], math.Float64bits(value))
	return buf
}

// DecodeInsertEntry reverses encodeInsertEntry; used by recovery to replay
// WAL entries into a freshly reconstructed chunk.
func DecodeInsertEntry(payload []byte) (labels.Labels, uint64, float64, error) {
	if len(payload) < 2 {
		return nil, 0, 0, errs.WalInternal("chunk: truncated insert entry")
	}
	n := int(binary.BigEndian.Uint16(payload[0:2]))
	if len(payload) < 2+n+16 {
		return nil, 0, 0, errs.WalInternal("chunk: truncated insert entry body")
	}
	ls := labels.Decode(string(payload[2 : 2+n]))
	off := 2 + n
	ts := binary.BigEndian.Uint64(payload[off : off+8])
	value := math.Float64frombits(binary.BigEndian.Uint64(payload[off+8 : off+16]))
	return ls, ts, value, nil
}

// Insert writes one sample, taking the chunk's write lock. It fails with
// OutOfRange if ts is outside [start,end), or Internal("closed") if the
// chunk no longer accepts writes (spec §4.F, §9).
func (c *Chunk) Insert(ctx context.Context, ls labels.Labels, ts uint64, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errs.Internal("closed")
	}
	if ts < c.start || ts >= c.end {
		return errs.OutOfRange(c.start, c.end)
	}

	if c.wal != nil {
		if _, err := c.wal.Append(EntryKindInsert, encodeInsertEntry(ls, ts, value)); err != nil {
			return err
		}
	}

	id, ok, err := c.idx.GetIDByLabels(ctx, ls)
	if err != nil {
		return err
	}
	if !ok {
		id = c.nextID
		c.nextID++
		if err := c.idx.CreateIndex(ctx, ls, id); err != nil {
			return err
		}
	}
	return c.store.WritePoint(ctx, id, ts, value)
}

// ReplayInsert applies one WAL-recovered (labels, ts, value) triple directly
// to the indexer and sample store, bypassing the closed check and skipping
// the WAL append (the entry is the WAL record being replayed). Used only at
// startup, before the chunk is exposed to writers or readers (spec §9 eager
// replay). A monotonic-write violation from an already-durable point is
// expected when the underlying backend had already committed the insert
// before an unclean shutdown; callers should log and continue rather than
// treat it as replay failure.
func (c *Chunk) ReplayInsert(ctx context.Context, ls labels.Labels, ts uint64, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok, err := c.idx.GetIDByLabels(ctx, ls)
	if err != nil {
		return err
	}
	if !ok {
		id = c.nextID
		c.nextID++
		if err := c.idx.CreateIndex(ctx, ls, id); err != nil {
			return err
		}
	}
	return c.store.WritePoint(ctx, id, ts, value)
}

// TimeSeries is one queried series: its id, label set and ordered points.
type TimeSeries struct {
	ID     uint64
	Labels labels.Labels
	Points []chunkenc.TimePoint
}

// Query returns every series matching ls with points in [start,end],
// clipped to the chunk's own window. Takes the chunk's read lock.
func (c *Chunk) Query(ctx context.Context, ls labels.Labels, start, end uint64) ([]TimeSeries, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lo, hi, overlap := c.overlap(start, end)
	if !overlap {
		return nil, nil
	}

	metas, err := c.idx.GetSeriesMetadataContaining(ctx, ls)
	if err != nil {
		return nil, err
	}

	out := make([]TimeSeries, 0, len(metas))
	for _, m := range metas {
		points, err := c.store.ReadRange(ctx, m.ID, lo, hi)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) || errs.Is(err, errs.KindOutOfRange) {
				continue
			}
			return nil, err
		}
		out = append(out, TimeSeries{ID: m.ID, Labels: m.Labels, Points: points})
	}
	return out, nil
}

// overlap intersects [start,end] with the chunk's half-open [c.start,c.end)
// window, returning the clipped inclusive bounds the sample store expects.
func (c *Chunk) overlap(start, end uint64) (lo, hi uint64, ok bool) {
	lo = start
	if c.start > lo {
		lo = c.start
	}
	hi = end
	if c.end > 0 && c.end-1 < hi {
		hi = c.end - 1
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// Close marks the chunk read-only, freezing End to min(End, now) per spec
// §3/§9 (a chunk recovered from an unclean shutdown must not claim a
// window stretching into the future).
func (c *Chunk) Close(now uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if now < c.end {
		c.end = now
	}
}

// CloseBackends releases the OS-level resources (e.g. a bbolt file's
// exclusive flock) held by this chunk's own indexer and sample store
// backends. It is distinct from Close: Close only stops the chunk from
// accepting new writes and is called on every rotation, while
// CloseBackends is called once, at process shutdown, because a rotated
// (closed) chunk must stay queryable until then. A chunk bound to a
// shared remote backend leaves that backend open for its sibling chunks.
func (c *Chunk) CloseBackends() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	if !c.idxShared {
		if err := c.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !c.storeShared {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
