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

// Package wal implements the write-ahead log that protects in-flight
// writes (spec §4.E): ordered, CRC-protected durable segment files with a
// configurable sync policy, grounded on teacher's wal.go (SegmentWAL,
// castagnoliTable/newCRC32, cut()-style segment rotation).
package wal

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"hash/crc64"
	"os"
	"sync"
	"time"

	"github.com/flowmetric/tsdb/errs"
)

// Magic is the 8-byte value every segment file starts with (spec §6):
// the top three bytes spell "WAL", the remaining five are reserved.
const Magic uint64 = 0x57414C0000000000

const trailerSize = 8 + 8 + 8 // first_seq + last_seq + crc64

var crc64Table = crc64.MakeTable(crc64.ISO)

func newCRC32() hash.Hash32 {
	return crc32.NewIEEE()
}

// Entry is one record in a segment.
type Entry struct {
	SeqID   uint64
	Kind    byte
	Payload []byte
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, 8+1+2+len(e.Payload)+4)
	binary.BigEndian.PutUint64(buf[0:8], e.SeqID)
	buf[8] = e.Kind
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(e.Payload)))
	copy(buf[11:11+len(e.Payload)], e.Payload)
	crc := newCRC32()
	_, _ = crc.Write(buf[:11+len(e.Payload)])
	binary.BigEndian.PutUint32(buf[11+len(e.Payload):], crc.Sum32())
	return buf
}

// Writer appends entries to one segment file and manages its sync policy.
type Writer struct {
	mu sync.Mutex

	path   string
	f      *os.File
	bw     *bufio.Writer
	crc64h hash.Hash64

	firstSeq   uint64
	lastSeq    uint64
	hasEntries bool
	closed     bool

	policy       SyncPolicy
	pendingCount int
	pendingBytes int64

	stopTimer chan struct{}
}

// OpenWriter opens or creates the segment file at path. If it already
// exists, its CRC64 trailer is validated, its first/last sequence ids are
// recovered, and the trailer is truncated off so writes resume where the
// segment left off (spec §4.E Writer semantics).
func OpenWriter(path string, policy SyncPolicy) (*Writer, error) {
	w := &Writer{path: path, policy: policy, crc64h: crc64.New(crc64Table)}

	info, statErr := os.Stat(path)
	switch {
	case statErr == nil && info.Size() > 0:
		if err := w.resume(); err != nil {
			return nil, err
		}
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
		if err != nil {
			return nil, errs.WalFileIo(err, "wal: create segment %s", path)
		}
		magic := make([]byte, 8)
		binary.BigEndian.PutUint64(magic, Magic)
		if _, err := f.Write(magic); err != nil {
			return nil, errs.WalFileIo(err, "wal: write magic %s", path)
		}
		w.f = f
	}

	w.bw = bufio.NewWriterSize(w.f, 1<<20)
	if policy.Kind == SyncTimeBased {
		w.stopTimer = make(chan struct{})
		go w.runTimer()
	}
	return w, nil
}

func (w *Writer) resume() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return errs.WalFileIo(err, "wal: read segment %s", w.path)
	}
	if len(data) < 8+trailerSize {
		return errs.WalFileIo(nil, "wal: segment %s too short (%d bytes)", w.path, len(data))
	}
	if binary.BigEndian.Uint64(data[0:8]) != Magic {
		return errs.WalFileIo(nil, "wal: segment %s has invalid magic", w.path)
	}
	body := data[8 : len(data)-trailerSize]
	trailer := data[len(data)-trailerSize:]
	firstSeq := binary.BigEndian.Uint64(trailer[0:8])
	lastSeq := binary.BigEndian.Uint64(trailer[8:16])
	storedCRC := binary.BigEndian.Uint64(trailer[16:24])

	h := crc64.New(crc64Table)
	_, _ = h.Write(body)
	_, _ = h.Write(trailer[0:16])
	if h.Sum64() != storedCRC {
		return errs.WalCRCMismatch("wal: segment %s crc64 mismatch", w.path)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR, 0o666)
	if err != nil {
		return errs.WalFileIo(err, "wal: reopen segment %s", w.path)
	}
	if err := f.Truncate(int64(len(data) - trailerSize)); err != nil {
		return errs.WalFileIo(err, "wal: truncate trailer %s", w.path)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return errs.WalFileIo(err, "wal: seek end %s", w.path)
	}

	w.f = f
	w.firstSeq = firstSeq
	w.lastSeq = lastSeq
	w.hasEntries = len(body) > 0
	_, _ = w.crc64h.Write(body)
	return nil
}

// WriteEntry appends e, enforcing e.SeqID > last-written seq id.
func (w *Writer) WriteEntry(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errs.WalInternal("wal: write to closed segment")
	}
	if w.hasEntries && e.SeqID <= w.lastSeq {
		return errs.WalInternal("wal: seq_id %d must be > last_seq %d", e.SeqID, w.lastSeq)
	}

	buf := encodeEntry(e)
	if _, err := w.bw.Write(buf); err != nil {
		return errs.WalFileIo(err, "wal: write entry")
	}
	_, _ = w.crc64h.Write(buf)

	if !w.hasEntries {
		w.firstSeq = e.SeqID
	}
	w.lastSeq = e.SeqID
	w.hasEntries = true

	w.pendingCount++
	w.pendingBytes += int64(len(buf))

	switch w.policy.Kind {
	case SyncImmediate:
		return w.syncLocked()
	case SyncNumBased:
		if w.pendingCount >= w.policy.N {
			return w.syncLocked()
		}
	case SyncSizeBased:
		if w.pendingBytes >= w.policy.Bytes {
			return w.syncLocked()
		}
	}
	return nil
}

// Sync forces a flush+fsync regardless of the configured sync policy.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.bw.Flush(); err != nil {
		return errs.WalFileIo(err, "wal: flush")
	}
	if err := w.f.Sync(); err != nil {
		return errs.WalFileIo(err, "wal: fsync")
	}
	w.pendingCount = 0
	w.pendingBytes = 0
	return nil
}

func (w *Writer) runTimer() {
	t := time.NewTicker(w.policy.Interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = w.Sync()
		case <-w.stopTimer:
			return
		}
	}
}

// Size reports the current size of the segment: the bytes on disk (magic +
// entries, not counting the not-yet-written trailer) plus the bytes still
// buffered. Manager uses it to decide when to rotate.
func (w *Writer) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.f.Stat()
	if err != nil {
		return 0, errs.WalFileIo(err, "wal: stat")
	}
	return info.Size() + int64(w.bw.Buffered()), nil
}

// FirstSeq/LastSeq report the sequence range written so far.
func (w *Writer) FirstSeq() uint64 { return w.firstSeq }
func (w *Writer) LastSeq() uint64  { return w.lastSeq }
func (w *Writer) HasEntries() bool { return w.hasEntries }
func (w *Writer) Path() string     { return w.path }

// Close flushes, writes the first_seq/last_seq/crc64 trailer, fsyncs and
// closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return errs.WalFileIo(err, "wal: flush on close")
	}

	trailer := make([]byte, 16)
	binary.BigEndian.PutUint64(trailer[0:8], w.firstSeq)
	binary.BigEndian.PutUint64(trailer[8:16], w.lastSeq)
	_, _ = w.crc64h.Write(trailer)

	full := make([]byte, 24)
	copy(full, trailer)
	binary.BigEndian.PutUint64(full[16:24], w.crc64h.Sum64())

	if _, err := w.f.Write(full); err != nil {
		return errs.WalFileIo(err, "wal: write trailer")
	}
	if err := w.f.Sync(); err != nil {
		return errs.WalFileIo(err, "wal: fsync on close")
	}
	if w.stopTimer != nil {
		close(w.stopTimer)
	}
	w.closed = true
	return w.f.Close()
}
