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
	"testing"

	"github.com/flowmetric/tsdb/bitstream"
	"github.com/flowmetric/tsdb/errs"
	"github.com/stretchr/testify/require"
)

func TestEncodeSeedScenario(t *testing.T) {
	points := []TimePoint{
		{Ts: 128, Value: 1.5},
		{Ts: 129, Value: 1.5},
		{Ts: 130, Value: 1.5},
		{Ts: 131, Value: 1.5},
		{Ts: 132, Value: 1.5},
	}
	bs, err := encodeBits(points)
	require.NoError(t, err)

	want := make([]byte, 0, 25)
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 0x80) // ts0 = 128
	want = append(want, 0x3F, 0xF8, 0, 0, 0, 0, 0, 0) // value0 = 1.5
	want = append(want, 0, 0, 0, 0, 0, 0, 0, 1)       // delta1 = 1
	want = append(want, 0x00)                         // 7 trailing zero bits

	got := bs.Serialize()
	require.Equal(t, append(want, 1), got) // remaining = 1
}

func TestGorillaRoundTrip(t *testing.T) {
	cases := [][]TimePoint{
		{{Ts: 1, Value: 1}},
		{{Ts: 1000, Value: 1}, {Ts: 1500, Value: 2}, {Ts: 2000, Value: 3}},
		{{Ts: 0, Value: 0}, {Ts: 10, Value: 0}, {Ts: 30, Value: 5.5}, {Ts: 70, Value: 5.5}, {Ts: 1000, Value: -3.25}},
	}
	for _, points := range cases {
		enc, err := Encode(points)
		require.NoError(t, err)
		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Len(t, dec, len(points))
		for i := range points {
			require.True(t, points[i].Equal(dec[i]), "point %d: %+v != %+v", i, points[i], dec[i])
		}
	}
}

func TestVariablePrefixMinimality(t *testing.T) {
	// dod=0 -> 1 bit
	bs := bitstream.New()
	require.NoError(t, encodeDod(bs, 0))
	require.Equal(t, 1, bs.BitLen())

	// |dod|<=127 -> 10 bits
	bs = bitstream.New()
	require.NoError(t, encodeDod(bs, 100))
	require.Equal(t, 10, bs.BitLen())
	bs = bitstream.New()
	require.NoError(t, encodeDod(bs, -127))
	require.Equal(t, 10, bs.BitLen())

	// |dod|<=32767 -> 19 bits
	bs = bitstream.New()
	require.NoError(t, encodeDod(bs, 30000))
	require.Equal(t, 19, bs.BitLen())
}

func TestCompactionTypeMismatch(t *testing.T) {
	enc, err := Encode([]TimePoint{{Ts: 1, Value: 1}})
	require.NoError(t, err)
	enc[len(enc)-1] = 0xFF
	_, err = Decode(enc)
	require.True(t, errs.Is(err, errs.KindWalCompactionTypeDontMatch))
}

func TestLeadingZeroClampDoesNotCorrupt(t *testing.T) {
	// Values whose XOR has >=32 leading zeros must still round-trip once
	// clamped to the 5-bit window (spec §9).
	points := []TimePoint{
		{Ts: 1, Value: 1.0},
		{Ts: 2, Value: 1.0000000001},
		{Ts: 3, Value: 1.0000000002},
	}
	enc, err := Encode(points)
	require.NoError(t, err)
	dec, err := Decode(enc)
	require.NoError(t, err)
	for i := range points {
		require.True(t, points[i].Equal(dec[i]))
	}
}
