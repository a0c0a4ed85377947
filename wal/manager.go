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

package wal

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/metrics"
)

// defaultSegmentSizeBytes is the rotation threshold teacher's wal.go also
// uses a fixed constant for (there: 256MiB); this engine's chunks are far
// smaller-lived so a smaller default keeps segment counts reasonable.
const defaultSegmentSizeBytes = 64 << 20

// Manager owns one active (writable) segment plus an ordered list of
// read-only closed segments, assigns sequence ids, and rotates segments
// once the active one crosses a size threshold (spec §4.E).
type Manager struct {
	mu sync.Mutex

	dir         string
	policy      SyncPolicy
	segmentSize int64
	logger      log.Logger
	metrics     *metrics.Metrics

	active  *Writer
	closed  []SegmentInfo
	nextSeq uint64

	entropy *ulid.MonotonicEntropy
}

// Option configures Open.
type Option func(*Manager)

// WithSegmentSize overrides the rotation threshold.
func WithSegmentSize(n int64) Option {
	return func(m *Manager) { m.segmentSize = n }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics attaches a metrics bundle; defaults to an unregistered one.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Open recovers the WAL directory at dir: every segment file is validated
// in creation order; a segment that fails CRC validation is logged and
// skipped rather than aborting startup (spec §5). The most recent valid
// segment, if any, becomes the active (resumable) segment; otherwise a
// fresh one is created.
func Open(dir string, policy SyncPolicy, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, errs.WalFileIo(err, "wal: mkdir %s", dir)
	}
	m := &Manager{
		dir:         dir,
		policy:      policy,
		segmentSize: defaultSegmentSizeBytes,
		logger:      log.NewNopLogger(),
		metrics:     metrics.NewNop(),
		entropy:     ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(m)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.WalFileIo(err, "wal: read dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // ulid names are lexicographically time-ordered

	var valid []SegmentInfo
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := ValidateSegment(path)
		if err != nil {
			level.Warn(m.logger).Log("msg", "wal: skipping unreadable segment", "path", path, "err", err)
			continue
		}
		valid = append(valid, info)
	}

	if len(valid) > 0 {
		last := valid[len(valid)-1]
		m.closed = valid[:len(valid)-1]
		w, err := OpenWriter(last.Path, policy)
		if err != nil {
			// The tail segment passed validation but failed to reopen for
			// writing (e.g. permissions) -- treat it as closed-only and
			// start a fresh active segment instead of failing startup.
			level.Warn(m.logger).Log("msg", "wal: reopening tail segment failed, starting fresh", "path", last.Path, "err", err)
			m.closed = valid
		} else {
			m.active = w
			m.nextSeq = last.LastSeq + 1
		}
	}

	if m.active == nil {
		if err := m.rotateLocked(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) newSegmentName() string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), m.entropy)
	return id.String() + ".seg"
}

func (m *Manager) rotateLocked() error {
	if m.active != nil {
		if err := m.active.Close(); err != nil {
			return err
		}
		m.closed = append(m.closed, SegmentInfo{
			Path:     m.active.Path(),
			FirstSeq: m.active.FirstSeq(),
			LastSeq:  m.active.LastSeq(),
		})
	}
	path := filepath.Join(m.dir, m.newSegmentName())
	w, err := OpenWriter(path, m.policy)
	if err != nil {
		return err
	}
	m.active = w
	return nil
}

// Append assigns the next sequence id to an entry carrying payload and
// kind, writes it to the active segment, and rotates first if the active
// segment has crossed the size threshold.
func (m *Manager) Append(kind byte, payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size, err := m.active.Size()
	if err != nil {
		return 0, err
	}
	if size >= m.segmentSize {
		if err := m.rotateLocked(); err != nil {
			return 0, err
		}
	}

	seq := m.nextSeq
	m.nextSeq++
	if err := m.active.WriteEntry(Entry{SeqID: seq, Kind: kind, Payload: payload}); err != nil {
		return 0, err
	}
	m.metrics.WalWrites.Inc()
	m.metrics.WalBytes.Add(float64(8 + 1 + 2 + len(payload) + 4))
	return seq, nil
}

// Sync forces the active segment to flush and fsync.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Sync()
}

// Replay streams every entry with SeqID >= checkpoint across all closed
// segments (in creation order) followed by the active segment, invoking fn
// for each. A per-entry error from fn stops replay and is returned.
func (m *Manager) Replay(checkpoint uint64, fn func(Entry) error) error {
	m.mu.Lock()
	segments := make([]SegmentInfo, len(m.closed))
	copy(segments, m.closed)
	activePath := m.active.Path()
	m.mu.Unlock()

	for _, seg := range segments {
		if seg.LastSeq < checkpoint {
			continue
		}
		if err := replaySegment(seg.Path, checkpoint, fn); err != nil {
			return err
		}
	}
	return replayActive(activePath, checkpoint, fn)
}

func replaySegment(path string, checkpoint uint64, fn func(Entry) error) error {
	r, err := OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		e, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if e.SeqID < checkpoint {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func replayActive(path string, checkpoint uint64, fn func(Entry) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.WalFileIo(err, "wal: read active segment %s", path)
	}
	if len(data) <= 8 {
		return nil
	}
	r := &Reader{body: data[8:]}
	for {
		e, ok, err := r.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if e.SeqID < checkpoint {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Close closes the active segment, fsyncing its trailer.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Close()
}
