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

package chunkenc

import (
	"math/bits"

	"github.com/flowmetric/tsdb/bitstream"
	"github.com/flowmetric/tsdb/errs"
)

// maxLeadingZeros is the cap spec §9 mandates: the cached leading-zero
// window is stored in 5 bits, so values >=32 must be clamped or the field
// truncates silently and corrupts the stream.
const maxLeadingZeros = 31

// CompactionType tags an encoded stream so a decoder can refuse a mismatched
// type outright rather than mis-decode it (spec §4.B).
type CompactionType byte

const (
	// CompactionTypeGorilla is the only compaction type this engine emits.
	CompactionTypeGorilla CompactionType = 1
)

// Encode compacts points into a framed byte stream: a Gorilla-coded
// bitstream (serialized with its trailing remaining-bits counter) followed
// by a one-byte compaction-type suffix. points must be non-empty and in
// non-decreasing timestamp order.
func Encode(points []TimePoint) ([]byte, error) {
	if len(points) == 0 {
		return nil, errs.Internal("gorilla: cannot encode empty point sequence")
	}
	bs, err := encodeBits(points)
	if err != nil {
		return nil, err
	}
	data := bs.Serialize()
	return append(data, byte(CompactionTypeGorilla)), nil
}

// Decode reverses Encode. Fails with CompactionTypeDontMatch if the
// trailing type byte does not match CompactionTypeGorilla.
func Decode(data []byte) ([]TimePoint, error) {
	if len(data) < 1 {
		return nil, errs.Internal("gorilla: empty frame")
	}
	got := CompactionType(data[len(data)-1])
	if got != CompactionTypeGorilla {
		return nil, errs.WalCompactionTypeDontMatch(byte(CompactionTypeGorilla), byte(got))
	}
	bs, err := bitstream.Deserialize(data[:len(data)-1])
	if err != nil {
		return nil, err
	}
	return decodeBits(bs)
}

type valueWindow struct {
	leading, trailing int
	has               bool
}

// brackets reports whether x's significant bits fit inside the cached
// window (i.e. re-using it wastes no precision).
func (w valueWindow) brackets(leading, trailing int) bool {
	return w.has && leading >= w.leading && trailing >= w.trailing
}

func encodeBits(points []TimePoint) (*bitstream.BitStream, error) {
	bs := bitstream.New()

	p0 := points[0]
	bs.WriteBits(p0.Ts, 64)
	bs.WriteBits(float64bits(p0.Value), 64)

	if len(points) == 1 {
		return bs, nil
	}

	p1 := points[1]
	if p1.Ts < p0.Ts {
		return nil, errs.Internal("gorilla: non-monotonic timestamps at index 1")
	}
	delta := int64(p1.Ts - p0.Ts)
	bs.WriteBits(uint64(delta), 64)

	var win valueWindow
	encodeValue(bs, &win, p1.Value, p0.Value, true)

	prevTs := p1.Ts
	prevDelta := delta

	for i := 2; i < len(points); i++ {
		p := points[i]
		if p.Ts < prevTs {
			return nil, errs.Internal("gorilla: non-monotonic timestamps at index %d", i)
		}
		curDelta := int64(p.Ts - prevTs)
		dod := curDelta - prevDelta
		if err := encodeDod(bs, dod); err != nil {
			return nil, err
		}
		encodeValue(bs, &win, p.Value, points[i-1].Value, false)

		prevTs = p.Ts
		prevDelta = curDelta
	}
	return bs, nil
}

func decodeBits(bs *bitstream.BitStream) ([]TimePoint, error) {
	r := bitstream.NewReader(bs)

	rawTs, err := r.ReadBits(64)
	if err != nil {
		return nil, err
	}
	rawVal, err := r.ReadBits(64)
	if err != nil {
		return nil, err
	}
	points := []TimePoint{{Ts: rawTs, Value: bitsFloat64(rawVal)}}
	if r.Cursor() >= bs.BitLen() {
		return points, nil
	}

	deltaBits, err := r.ReadBits(64)
	if err != nil {
		return nil, err
	}
	delta := int64(deltaBits)
	ts1 := points[0].Ts + uint64(delta)

	var win valueWindow
	v1, err := decodeValue(r, &win, points[0].Value, true)
	if err != nil {
		return nil, err
	}
	points = append(points, TimePoint{Ts: ts1, Value: v1})

	prevTs := ts1
	prevDelta := delta

	for r.Cursor() < bs.BitLen() {
		dod, err := decodeDod(r)
		if err != nil {
			return nil, err
		}
		curDelta := prevDelta + dod
		ts := prevTs + uint64(curDelta)

		v, err := decodeValue(r, &win, points[len(points)-1].Value, false)
		if err != nil {
			return nil, err
		}
		points = append(points, TimePoint{Ts: ts, Value: v})

		prevTs = ts
		prevDelta = curDelta
	}
	return points, nil
}

// encodeDod writes the variable-length dod prefix described in spec §4.B,
// choosing the shortest representation that fits dod.
func encodeDod(bs *bitstream.BitStream, dod int64) error {
	switch {
	case dod == 0:
		bs.WriteBit(false)
	case dod >= -127 && dod <= 128:
		bs.WriteBits(0b10, 2)
		bs.WriteBits(uint64(dod), 8)
	case dod >= -32767 && dod <= 32768:
		bs.WriteBits(0b110, 3)
		bs.WriteBits(uint64(dod), 16)
	case dod >= -2147483647 && dod <= 2147483648:
		bs.WriteBits(0b1110, 4)
		bs.WriteBits(uint64(dod), 32)
	default:
		bs.WriteBits(0b1111, 4)
		bs.WriteBits(uint64(dod), 64)
	}
	return nil
}

func decodeDod(r *bitstream.Reader) (int64, error) {
	b, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		return 0, nil
	}
	b, err = r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := r.ReadBits(8)
		if err != nil {
			return 0, err
		}
		return signExtend(v, 8), nil
	}
	b, err = r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := r.ReadBits(16)
		if err != nil {
			return 0, err
		}
		return signExtend(v, 16), nil
	}
	b, err = r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !b {
		v, err := r.ReadBits(32)
		if err != nil {
			return 0, err
		}
		return signExtend(v, 32), nil
	}
	v, err := r.ReadBits(64)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

// signExtend maps an n-bit field back to the dod range encodeDod writes
// into it, [-(2^(n-1)-1), 2^(n-1)].
func signExtend(v uint64, n int) int64 {
	if v > uint64(1)<<uint(n-1) {
		return int64(v) - int64(1)<<uint(n)
	}
	return int64(v)
}

// encodeValue writes the XOR value coding for curr against prev, reusing
// win's cached leading/trailing window when it brackets the XOR and this
// is not the second point (isSecondPoint=true disables reuse, since no
// window has been established yet).
func encodeValue(bs *bitstream.BitStream, win *valueWindow, curr, prev float64, isSecondPoint bool) {
	x := float64bits(curr) ^ float64bits(prev)
	if x == 0 {
		bs.WriteBit(false)
		return
	}
	bs.WriteBit(true)

	leading := bits.LeadingZeros64(x)
	trailing := bits.TrailingZeros64(x)
	if leading > maxLeadingZeros {
		leading = maxLeadingZeros
	}

	if !isSecondPoint && win.brackets(leading, trailing) {
		bs.WriteBit(false)
		sigLen := 64 - win.leading - win.trailing
		sig := (x >> uint(win.trailing)) & ((uint64(1) << uint(sigLen)) - 1)
		bs.WriteBits(sig, sigLen)
		return
	}

	bs.WriteBit(true)
	sigLen := 64 - leading - trailing
	bs.WriteBits(uint64(leading), 5)
	bs.WriteBits(uint64(sigLen-1), 6)
	sig := (x >> uint(trailing)) & ((uint64(1) << uint(sigLen)) - 1)
	bs.WriteBits(sig, sigLen)

	win.leading = leading
	win.trailing = trailing
	win.has = true
}

func decodeValue(r *bitstream.Reader, win *valueWindow, prev float64, isSecondPoint bool) (float64, error) {
	zero, err := r.ReadBit()
	if err != nil {
		return 0, err
	}
	if !zero {
		return prev, nil
	}

	reuse, err := r.ReadBit()
	if err != nil {
		return 0, err
	}

	if !reuse {
		if isSecondPoint || !win.has {
			return 0, errs.Internal("gorilla: cannot reuse window before it is established")
		}
		sigLen := 64 - win.leading - win.trailing
		sig, err := r.ReadBits(sigLen)
		if err != nil {
			return 0, err
		}
		x := sig << uint(win.trailing)
		return bitsFloat64(float64bits(prev) ^ x), nil
	}

	leadingU, err := r.ReadBits(5)
	if err != nil {
		return 0, err
	}
	sigLenU, err := r.ReadBits(6)
	if err != nil {
		return 0, err
	}
	leading := int(leadingU)
	sigLen := int(sigLenU) + 1
	trailing := 64 - leading - sigLen

	sig, err := r.ReadBits(sigLen)
	if err != nil {
		return 0, err
	}
	x := sig << uint(trailing)

	win.leading = leading
	win.trailing = trailing
	win.has = true

	return bitsFloat64(float64bits(prev) ^ x), nil
}
