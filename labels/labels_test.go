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

package labels

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortAndEqual(t *testing.T) {
	a := Labels{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}}
	b := Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	require.True(t, Equal(a, b))

	a.Sort()
	require.Equal(t, "a", a[0].Name)
	require.Equal(t, "b", a[1].Name)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ls := Labels{{Name: "host", Value: "a"}, {Name: "__name__", Value: "cpu"}}
	for _, withPrefix := range []bool{true, false} {
		enc := Encode(ls, withPrefix)
		s := enc
		if withPrefix {
			s = enc[1:]
		}
		decoded := Decode(s)
		require.True(t, Equal(ls, decoded))
	}
}

func TestValid(t *testing.T) {
	require.True(t, Label{Name: "a_1", Value: "x"}.Valid())
	require.False(t, Label{Name: "1a", Value: "x"}.Valid())
	require.False(t, Label{Name: "a", Value: ""}.Valid())
	require.False(t, Label{Name: "", Value: "x"}.Valid())
}

func TestHashStable(t *testing.T) {
	a := Labels{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}}
	b := Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	require.Equal(t, a.Hash(), b.Hash())
}

func TestCompare(t *testing.T) {
	a := Labels{{Name: "a", Value: "1"}}
	b := Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	require.True(t, Compare(a, b) < 0)
	require.Equal(t, 0, Compare(a, a))
}
