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

package bitstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBitsRoundTrip(t *testing.T) {
	b := New()
	b.WriteBits(0b101, 3)
	b.WriteBit(true)
	b.WriteBits(0xFF, 8)
	require.Equal(t, 12, b.BitLen())

	r := NewReader(b)
	v, err := r.ReadBits(3)
	require.NoError(t, err)
	require.Equal(t, uint64(0b101), v)

	bit, err := r.ReadBit()
	require.NoError(t, err)
	require.True(t, bit)

	v, err = r.ReadBits(8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFF), v)
}

func TestSerializeRoundTrip(t *testing.T) {
	b := New()
	b.WriteBits(0x1A2, 9)
	data := b.Serialize()

	restored, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, b.BitLen(), restored.BitLen())

	r := NewReader(restored)
	v, err := r.ReadBits(9)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1A2), v)
}

func TestReadNextNBitPadsTail(t *testing.T) {
	b := New()
	b.WriteBits(0b1011, 4)
	r := NewReader(b)
	dst := make([]byte, 1)
	require.NoError(t, r.ReadNextNBit(dst, 4))
	require.Equal(t, byte(0b10110000), dst[0])
}

func TestReadPastEndFails(t *testing.T) {
	b := New()
	b.WriteBit(true)
	r := NewReader(b)
	_, err := r.ReadBits(2)
	require.Error(t, err)
}

func TestResetOutOfRange(t *testing.T) {
	b := New()
	b.WriteBits(1, 4)
	r := NewReader(b)
	require.Error(t, r.Reset(5))
	require.NoError(t, r.Reset(4))
}

func TestAppend(t *testing.T) {
	a := New()
	a.WriteBits(0b110, 3)
	c := New()
	c.WriteBits(0b01, 2)

	a.Append(c)
	require.Equal(t, 5, a.BitLen())
	r := NewReader(a)
	v, err := r.ReadBits(5)
	require.NoError(t, err)
	require.Equal(t, uint64(0b11001), v)
}
