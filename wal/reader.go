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
	"encoding/binary"
	"hash/crc64"

	"github.com/flowmetric/tsdb/errs"
)

// SegmentInfo is the validated metadata of a segment file.
type SegmentInfo struct {
	Path     string
	FirstSeq uint64
	LastSeq  uint64
}

// ValidateSegment checks a segment's magic and trailing CRC64 without
// reading its entries. It is what Manager recovery calls per segment file
// so a corrupt tail marks the segment unreadable without aborting startup
// (spec §5). Closed segments are immutable, so the file is mapped rather
// than copied into a fresh buffer.
func ValidateSegment(path string) (SegmentInfo, error) {
	data, unmap, err := mmapReadOnly(path)
	if err != nil {
		return SegmentInfo{}, err
	}
	defer unmap()
	if len(data) < 8+trailerSize {
		return SegmentInfo{}, errs.WalFileIo(nil, "wal: %s too short", path)
	}
	if binary.BigEndian.Uint64(data[0:8]) != Magic {
		return SegmentInfo{}, errs.WalFileIo(nil, "wal: %s invalid magic", path)
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
		return SegmentInfo{}, errs.WalCRCMismatch("wal: %s crc64 mismatch", path)
	}
	if firstSeq > lastSeq && lastSeq != 0 {
		return SegmentInfo{}, errs.WalFileIo(nil, "wal: %s first_seq %d > last_seq %d", path, firstSeq, lastSeq)
	}
	return SegmentInfo{Path: path, FirstSeq: firstSeq, LastSeq: lastSeq}, nil
}

// Reader streams the validated entries of a closed segment in seq order.
type Reader struct {
	body    []byte
	pos     int
	unmap   func() error
	didOpen bool
}

// OpenReader validates the segment at path and returns a Reader positioned
// at its first entry, reading the immutable file through a read-only mmap
// rather than copying it (spec §4.E Reader; see ValidateSegment).
func OpenReader(path string) (*Reader, error) {
	if _, err := ValidateSegment(path); err != nil {
		return nil, err
	}
	data, unmap, err := mmapReadOnly(path)
	if err != nil {
		return nil, err
	}
	body := data[8 : len(data)-trailerSize]
	return &Reader{body: body, unmap: unmap, didOpen: true}, nil
}

// Close releases the mapping backing a Reader opened via OpenReader. Safe
// to call on a zero-value Reader (e.g. one built directly over an
// in-memory active-segment buffer), which is a no-op.
func (r *Reader) Close() error {
	if !r.didOpen {
		return nil
	}
	return r.unmap()
}

// Next returns the next entry, or ok=false at end of segment. Each entry's
// CRC32 is verified before it is returned.
func (r *Reader) Next() (Entry, bool, error) {
	if r.pos >= len(r.body) {
		return Entry{}, false, nil
	}
	if r.pos+11 > len(r.body) {
		return Entry{}, false, errs.WalFileIo(nil, "wal: truncated entry header at offset %d", r.pos)
	}
	seq := binary.BigEndian.Uint64(r.body[r.pos : r.pos+8])
	kind := r.body[r.pos+8]
	plen := int(binary.BigEndian.Uint16(r.body[r.pos+9 : r.pos+11]))
	end := r.pos + 11 + plen + 4
	if end > len(r.body) {
		return Entry{}, false, errs.WalFileIo(nil, "wal: truncated entry payload at offset %d", r.pos)
	}
	payload := r.body[r.pos+11 : r.pos+11+plen]
	storedCRC := binary.BigEndian.Uint32(r.body[r.pos+11+plen : end])

	crc := newCRC32()
	_, _ = crc.Write(r.body[r.pos : r.pos+11+plen])
	if crc.Sum32() != storedCRC {
		return Entry{}, false, errs.WalCRCMismatch("wal: entry seq %d crc32 mismatch", seq)
	}

	out := make([]byte, plen)
	copy(out, payload)
	r.pos = end
	return Entry{SeqID: seq, Kind: kind, Payload: out}, true, nil
}
