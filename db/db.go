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

// Package db implements the chunk manager (spec §4.G): it owns the active
// chunk and an ordered list of read-only secondary chunks, recovers them
// from base directory on startup, drives rotation on a timer, and fans
// writes/queries out to the chunks they belong to. Grounded on teacher's
// storage/tsdb/tsdb.go (the Prometheus storage.Storage adapter owning a
// head block plus read-only persisted blocks) and head.go's truncate/swap
// shape for rotation.
package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/flowmetric/tsdb/chunk"
	"github.com/flowmetric/tsdb/chunkenc"
	"github.com/flowmetric/tsdb/config"
	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/index"
	"github.com/flowmetric/tsdb/kv"
	"github.com/flowmetric/tsdb/kv/bboltkv"
	"github.com/flowmetric/tsdb/kv/memkv"
	"github.com/flowmetric/tsdb/kv/tikvkv"
	"github.com/flowmetric/tsdb/labels"
	"github.com/flowmetric/tsdb/metrics"
	"github.com/flowmetric/tsdb/store"
	"github.com/flowmetric/tsdb/wal"
)

// nowFn is overridden in tests to make rotation and recovery clamping
// deterministic.
var nowFn = func() uint64 { return uint64(time.Now().UnixMilli()) }

// Database owns the active chunk and an ordered list of secondary chunks,
// recovers state from disk on Open, and rotates the active chunk on a
// timer (spec §4.G).
type Database struct {
	mu sync.RWMutex

	opts    config.Options
	logger  log.Logger
	metrics *metrics.Metrics

	walMgr *wal.Manager

	active      *chunk.Chunk
	secondaries []*chunk.Chunk // sorted ascending by start_time

	remoteBackend *tikvkv.Backend // nil unless a backend type is "remote"

	stop     chan struct{}
	rotateWg sync.WaitGroup
}

// Option configures Open.
type Option func(*Database)

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(d *Database) { d.logger = l }
}

// WithMetrics attaches a metrics bundle; defaults to an unregistered one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Database) { d.metrics = m }
}

// Open recovers (or initializes) the database rooted at opts.BaseDir and
// starts its background rotation timer (spec §4.G startup sequence).
func Open(opts config.Options, dbOpts ...Option) (*Database, error) {
	if err := os.MkdirAll(opts.BaseDir, 0o777); err != nil {
		return nil, errs.Io(err, "db: mkdir %s", opts.BaseDir)
	}

	d := &Database{
		opts:    opts,
		logger:  log.NewNopLogger(),
		metrics: metrics.NewNop(),
		stop:    make(chan struct{}),
	}
	for _, o := range dbOpts {
		o(d)
	}

	// 1. Read or create db metadata; reject incompatible types.
	metaPath := filepath.Join(opts.BaseDir, "metadata.json")
	existing, ok, err := config.LoadDBMetadata(metaPath)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := existing.Validate(opts.IndexerType, opts.StorageType); err != nil {
			return nil, err
		}
	} else {
		m := config.DBMetadata{IndexerType: opts.IndexerType, StorageType: opts.StorageType}
		if err := config.SaveDBMetadata(metaPath, m); err != nil {
			return nil, err
		}
	}

	if opts.IndexerType == kv.TypeRemote || opts.StorageType == kv.TypeRemote {
		rb, err := tikvkv.Dial(context.Background(), opts.Endpoints)
		if err != nil {
			return nil, err
		}
		d.remoteBackend = rb
	}

	policy, err := opts.Sync.ToSyncPolicy()
	if err != nil {
		return nil, err
	}
	walDir := filepath.Join(opts.BaseDir, "wal")
	var walOpts []wal.Option
	walOpts = append(walOpts, wal.WithLogger(d.logger), wal.WithMetrics(d.metrics))
	if opts.WalSegmentSize > 0 {
		walOpts = append(walOpts, wal.WithSegmentSize(opts.WalSegmentSize))
	}
	walMgr, err := wal.Open(walDir, policy, walOpts...)
	if err != nil {
		return nil, err
	}
	d.walMgr = walMgr

	// 2. Enumerate subdirectories, reconstruct closed chunks.
	now := nowFn()
	entries, err := os.ReadDir(opts.BaseDir)
	if err != nil {
		return nil, errs.Io(err, "db: read dir %s", opts.BaseDir)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "wal" {
			continue
		}
		start, end, decErr := config.DecodeChunkDirName(e.Name())
		if decErr != nil {
			level.Warn(d.logger).Log("msg", "db: skipping non-chunk directory", "name", e.Name())
			continue
		}
		dir := filepath.Join(opts.BaseDir, e.Name())
		cm, err := config.LoadChunkMetadata(filepath.Join(dir, "metadata.json"))
		if err != nil {
			return nil, err
		}
		recoveredEnd := cm.EndTime
		if now < recoveredEnd {
			recoveredEnd = now
		}
		c, err := d.buildChunk(start, recoveredEnd, dir, true, cm.Identifier[:])
		if err != nil {
			return nil, err
		}
		d.secondaries = append(d.secondaries, c)
		_ = start // start already captured by the chunk itself
	}
	sort.Slice(d.secondaries, func(i, j int) bool { return d.secondaries[i].Start() < d.secondaries[j].Start() })

	// 3. Create the active chunk for window [now, now+chunk_size).
	chunkSizeMs := uint64(opts.ChunkSize.Milliseconds())
	if chunkSizeMs == 0 {
		chunkSizeMs = uint64(time.Hour.Milliseconds())
	}
	active, err := d.createFreshChunk(now, now+chunkSizeMs)
	if err != nil {
		return nil, err
	}
	d.active = active
	d.metrics.ActiveChunks.Set(1)
	d.metrics.SecondaryChunks.Set(float64(len(d.secondaries)))

	// 3b. Eagerly replay the WAL into the chunks it targets, before any
	// writer or reader can observe them (spec §9 open question: this repo
	// chooses eager-at-Open over lazy-on-first-access).
	if err := d.replayWAL(); err != nil {
		return nil, err
	}

	// 4. Spawn the rotation timer.
	d.rotateWg.Add(1)
	go d.runRotation(chunkSizeMs)

	return d, nil
}

func (d *Database) componentDir(dir string, isIndexer bool) string {
	if isIndexer {
		return filepath.Join(dir, "indexer")
	}
	return filepath.Join(dir, "storage")
}

// newComponentBackend builds the kv.Backend (and its namespace, for shared
// remote backends) for one chunk component (spec §4.H).
func (d *Database) newComponentBackend(kind kv.Type, dir string, chunkID string, isIndexer bool) (kv.Backend, []byte, error) {
	switch kind {
	case kv.TypeEmbedded:
		b, err := bboltkv.Open(dir)
		if err != nil {
			return nil, nil, err
		}
		return metrics.Instrument(b, d.metrics), nil, nil
	case kv.TypeRemote:
		id, err := d.remoteBackend.InitComponent(context.Background(), chunkID, isIndexer)
		if err != nil {
			return nil, nil, err
		}
		return metrics.Instrument(d.remoteBackend, d.metrics), id[:], nil
	case kv.TypeMemory:
		return metrics.Instrument(memkv.New(), d.metrics), nil, nil
	default:
		return nil, nil, errs.Option("db: unknown backend type %q", kind)
	}
}

// buildChunk constructs a Chunk (fresh or recovered) bound to real backends
// rooted at dir.
func (d *Database) buildChunk(start, end uint64, dir string, closed bool, identifier []byte) (*chunk.Chunk, error) {
	// The directory name is fixed when the chunk is created, so a recovered
	// chunk whose end was clamped still presents the same id to InitComponent.
	chunkID := filepath.Base(dir)

	idxBackend, idxNS, err := d.newComponentBackend(d.opts.IndexerType, d.componentDir(dir, true), chunkID, true)
	if err != nil {
		return nil, err
	}
	storeBackend, storeNS, err := d.newComponentBackend(d.opts.StorageType, d.componentDir(dir, false), chunkID, false)
	if err != nil {
		return nil, err
	}

	var id [16]byte
	copy(id[:], identifier)

	var appender chunk.WalAppender
	if !closed {
		appender = d.walMgr
	}

	idx := index.New(idxBackend, idxNS, index.WithMetrics(d.metrics))

	// A fresh chunk starts id assignment at 1. A recovered one must resume
	// above every id already on disk, or WAL replay of a series the crash
	// never got to persist could reuse an id still held by an existing
	// series (spec §3 monotonic-id invariant; see DESIGN.md).
	nextID := uint64(1)
	if closed {
		maxID, err := idx.MaxID(context.Background())
		if err != nil {
			return nil, err
		}
		nextID = maxID + 1
	}

	return chunk.New(chunk.Config{
		Start:       start,
		End:         end,
		Identifier:  id,
		Dir:         dir,
		Wal:         appender,
		Index:       idx,
		Store:       store.New(storeBackend, storeNS),
		NextID:      nextID,
		Closed:      closed,
		IdxShared:   d.opts.IndexerType == kv.TypeRemote,
		StoreShared: d.opts.StorageType == kv.TypeRemote,
	}), nil
}

// createFreshChunk builds a brand-new writable chunk rooted at a new
// directory, persisting its metadata.
func (d *Database) createFreshChunk(start, end uint64) (*chunk.Chunk, error) {
	dirName := config.ChunkDirName(start, end)
	dir := filepath.Join(d.opts.BaseDir, dirName)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, errs.Io(err, "db: mkdir %s", dir)
	}

	id := uuid.New()
	c, err := d.buildChunk(start, end, dir, false, id[:])
	if err != nil {
		return nil, err
	}

	meta := config.ChunkMetadata{StartTime: start, EndTime: end, Identifier: id}
	if err := config.SaveChunkMetadata(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return nil, err
	}
	return c, nil
}

// replayWAL streams every WAL entry from seq 0 and re-applies each insert to
// whichever recovered chunk's window claims its timestamp. A point whose ts
// falls in no known window (e.g. it belongs to a chunk directory that was
// never flushed to disk before the crash) is logged and dropped, matching
// the engine's general leniency toward unrecoverable individual points
// (spec §7). A monotonic-write rejection from a point already durably
// present in the backend is likewise logged and skipped: it means the
// underlying KV commit that the WAL entry was protecting had already landed
// before the unclean shutdown.
func (d *Database) replayWAL() error {
	var applied, skipped int
	err := d.walMgr.Replay(0, func(e wal.Entry) error {
		if e.Kind != chunk.EntryKindInsert {
			return nil
		}
		ls, ts, value, err := chunk.DecodeInsertEntry(e.Payload)
		if err != nil {
			level.Warn(d.logger).Log("msg", "db: skipping corrupt wal entry", "seq", e.SeqID, "err", err)
			skipped++
			return nil
		}
		target := d.chunkForReplay(ts)
		if target == nil {
			skipped++
			return nil
		}
		if err := target.ReplayInsert(context.Background(), ls, ts, value); err != nil {
			level.Debug(d.logger).Log("msg", "db: wal replay insert skipped", "seq", e.SeqID, "ts", ts, "err", err)
			skipped++
			return nil
		}
		applied++
		return nil
	})
	if err != nil {
		return err
	}
	level.Info(d.logger).Log("msg", "db: wal replay complete", "applied", applied, "skipped", skipped)
	return nil
}

// chunkForReplay returns the secondary or active chunk whose window
// contains ts, or nil if none does.
func (d *Database) chunkForReplay(ts uint64) *chunk.Chunk {
	for _, c := range d.secondaries {
		if ts >= c.Start() && ts < c.End() {
			return c
		}
	}
	if d.active != nil && ts >= d.active.Start() && ts < d.active.End() {
		return d.active
	}
	return nil
}

// runRotation drains a fixed-period ticker, rotating the active chunk on
// every tick (spec §4.G, §5: timer thread + single swap consumer).
func (d *Database) runRotation(periodMs uint64) {
	defer d.rotateWg.Done()
	period := time.Duration(periodMs) * time.Millisecond
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := d.rotate(); err != nil {
				level.Error(d.logger).Log("msg", "db: rotation failed", "err", err)
			}
		case <-d.stop:
			return
		}
	}
}

// rotate demotes the active chunk to a secondary and replaces it with a
// freshly built one seeded at tick+1 (spec §4.G Rotation).
func (d *Database) rotate() error {
	now := nowFn()
	next, err := d.createFreshChunk(now+1, now+1+uint64(d.opts.ChunkSize.Milliseconds()))
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.active
	old.Close(now)
	d.secondaries = append(d.secondaries, old)
	d.active = next
	d.metrics.SecondaryChunks.Set(float64(len(d.secondaries)))
	d.mu.Unlock()

	d.metrics.ChunkRotations.Inc()
	level.Debug(d.logger).Log("msg", "db: rotated active chunk", "new_start", next.Start(), "new_end", next.End())
	return nil
}

// WritePoints filters points outside the active window and with ts=0,
// then inserts the rest under the active chunk's own lock, accumulating
// partial failures (spec §4.G Write path).
func (d *Database) WritePoints(ctx context.Context, ls labels.Labels, points []chunkenc.TimePoint) error {
	d.mu.RLock()
	active := d.active
	d.mu.RUnlock()

	var failures int
	for _, p := range points {
		if p.Ts == 0 {
			level.Debug(d.logger).Log("msg", "db: dropping point with zero timestamp", "labels", labels.Encode(ls, false))
			continue
		}
		if p.Ts < active.Start() || p.Ts >= active.End() {
			level.Debug(d.logger).Log("msg", "db: dropping point outside active window", "ts", p.Ts, "start", active.Start(), "end", active.End())
			continue
		}
		if err := active.Insert(ctx, ls, p.Ts, p.Value); err != nil {
			failures++
			level.Warn(d.logger).Log("msg", "db: insert failed", "err", err)
		}
	}
	if failures > 0 {
		d.metrics.WriteFailures.Add(float64(failures))
		return errs.Internal("db: write_points: %d of %d inserts failed", failures, len(points))
	}
	return nil
}

// Query asks every chunk whose window overlaps [start,end] for series
// matching ls, merging per label set newest-first then reversing to
// chronological order (spec §4.G Query path). The active chunk is asked
// first to take advantage of warm state.
func (d *Database) Query(ctx context.Context, ls labels.Labels, start, end uint64) ([]chunk.TimeSeries, error) {
	d.mu.RLock()
	chunks := make([]*chunk.Chunk, 0, 1+len(d.secondaries))
	chunks = append(chunks, d.active)
	for i := len(d.secondaries) - 1; i >= 0; i-- {
		chunks = append(chunks, d.secondaries[i])
	}
	d.mu.RUnlock()

	type accum struct {
		id     uint64
		labels labels.Labels
		points []chunkenc.TimePoint // accumulated newest-first
	}
	merged := make(map[string]*accum)
	var order []string

	for _, c := range chunks {
		series, err := c.Query(ctx, ls, start, end)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			key := labels.Encode(s.Labels, true)
			acc, ok := merged[key]
			if !ok {
				acc = &accum{id: s.ID, labels: s.Labels}
				merged[key] = acc
				order = append(order, key)
			}
			for i := len(s.Points) - 1; i >= 0; i-- {
				acc.points = append(acc.points, s.Points[i])
			}
		}
	}

	out := make([]chunk.TimeSeries, 0, len(order))
	for _, key := range order {
		acc := merged[key]
		points := make([]chunkenc.TimePoint, len(acc.points))
		for i, p := range acc.points {
			points[len(acc.points)-1-i] = p
		}
		out = append(out, chunk.TimeSeries{ID: acc.id, Labels: acc.labels, Points: points})
	}
	return out, nil
}

// Close stops rotation, closes every chunk's own backends (releasing e.g. a
// bbolt file's exclusive flock so the same base dir can be reopened), then
// closes the WAL and any shared remote backend.
func (d *Database) Close() error {
	close(d.stop)
	d.rotateWg.Wait()

	d.mu.RLock()
	chunks := make([]*chunk.Chunk, 0, 1+len(d.secondaries))
	if d.active != nil {
		chunks = append(chunks, d.active)
	}
	chunks = append(chunks, d.secondaries...)
	d.mu.RUnlock()

	var firstErr error
	for _, c := range chunks {
		if err := c.CloseBackends(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := d.walMgr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if d.remoteBackend != nil {
		if err := d.remoteBackend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
