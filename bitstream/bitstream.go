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

// Package bitstream implements the append-only, sub-byte bit buffer the
// Gorilla codec is built on (spec §4.A).
package bitstream

import (
	"github.com/flowmetric/tsdb/errs"
)

// BitStream is a growable byte buffer plus the count of free bits in the
// last byte (0..=7). Bits are appended MSB-first within each byte.
type BitStream struct {
	buf       []byte
	remaining uint8 // bits free in buf[len(buf)-1]; 0 means buf is empty or full
}

// New returns an empty BitStream.
func New() *BitStream {
	return &BitStream{}
}

// BitLen returns the total number of bits written.
func (b *BitStream) BitLen() int {
	if len(b.buf) == 0 {
		return 0
	}
	return len(b.buf)*8 - int(b.remaining)
}

// Bytes returns the underlying byte slice (last byte possibly partial).
func (b *BitStream) Bytes() []byte { return b.buf }

// WriteBit appends a single bit.
func (b *BitStream) WriteBit(bit bool) {
	if b.remaining == 0 {
		b.buf = append(b.buf, 0)
		b.remaining = 8
	}
	if bit {
		b.buf[len(b.buf)-1] |= 1 << (b.remaining - 1)
	}
	b.remaining--
}

// WriteBits appends the low n bits of value, MSB-first, n in [0,64].
func (b *BitStream) WriteBits(value uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		b.WriteBit((value>>uint(i))&1 == 1)
	}
}

// Append concatenates other onto b bit-for-bit.
func (b *BitStream) Append(other *BitStream) {
	n := other.BitLen()
	r := NewReader(other)
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			// Append only ever reads bits it itself reported via BitLen.
			panic(err)
		}
		b.WriteBit(bit)
	}
}

// Serialize renders the stream with its trailing `remaining` counter so it
// round-trips through byte storage (spec §4.A).
func (b *BitStream) Serialize() []byte {
	out := make([]byte, len(b.buf)+1)
	copy(out, b.buf)
	out[len(out)-1] = b.remaining
	return out
}

// Deserialize parses bytes produced by Serialize. Fails with an Internal
// error if data is too short to carry the trailing counter.
func Deserialize(data []byte) (*BitStream, error) {
	if len(data) == 0 {
		return nil, errs.Internal("bitstream: empty serialized data")
	}
	remaining := data[len(data)-1]
	if remaining > 7 {
		return nil, errs.Internal("bitstream: corrupt remaining counter %d", remaining)
	}
	buf := make([]byte, len(data)-1)
	copy(buf, data[:len(data)-1])
	return &BitStream{buf: buf, remaining: remaining}, nil
}

// Reader is a 0-indexed bit cursor over a BitStream.
type Reader struct {
	s      *BitStream
	cursor int
}

// NewReader returns a reader positioned at bit 0 of s.
func NewReader(s *BitStream) *Reader {
	return &Reader{s: s}
}

// Cursor reports the current 0-indexed bit position.
func (r *Reader) Cursor() int { return r.cursor }

// Reset repositions the cursor. Fails with Internal if pos is out of range.
func (r *Reader) Reset(pos int) error {
	if pos < 0 || pos > r.s.BitLen() {
		return errs.Internal("bitstream: cursor reset out of range: %d", pos)
	}
	r.cursor = pos
	return nil
}

func (r *Reader) readBit() (bool, error) {
	if r.cursor >= r.s.BitLen() {
		return false, errs.Internal("bitstream: read past end at bit %d", r.cursor)
	}
	byteIdx := r.cursor / 8
	bitIdx := 7 - (r.cursor % 8)
	r.cursor++
	return (r.s.buf[byteIdx]>>uint(bitIdx))&1 == 1, nil
}

// ReadBit reads a single bit and advances the cursor.
func (r *Reader) ReadBit() (bool, error) {
	return r.readBit()
}

// ReadBits reads n bits (n in [0,64]) as a big-endian value.
func (r *Reader) ReadBits(n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			return 0, err
		}
		v <<= 1
		if bit {
			v |= 1
		}
	}
	return v, nil
}

// ReadNextNBit extracts n bits starting at the cursor into dst,
// advancing the cursor, and zero-pads any unused tail bits of the last
// destination byte. dst must be large enough to hold n bits
// (len(dst) >= (n+7)/8). Fails with Internal if fewer than n bits remain.
func (r *Reader) ReadNextNBit(dst []byte, n int) error {
	need := (n + 7) / 8
	if len(dst) < need {
		return errs.Internal("bitstream: dst too small for %d bits", n)
	}
	if r.cursor+n > r.s.BitLen() {
		return errs.Internal("bitstream: not enough bits remaining: have %d need %d", r.s.BitLen()-r.cursor, n)
	}
	for i := range dst[:need] {
		dst[i] = 0
	}
	for i := 0; i < n; i++ {
		bit, err := r.readBit()
		if err != nil {
			return err
		}
		if bit {
			byteIdx := i / 8
			bitIdx := 7 - (i % 8)
			dst[byteIdx] |= 1 << uint(bitIdx)
		}
	}
	return nil
}
