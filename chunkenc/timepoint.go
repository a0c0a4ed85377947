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

// Package chunkenc implements the bit-packed Gorilla-style compaction
// codec used to encode a closed chunk's sample data (spec §4.B).
package chunkenc

import "math"

// Timestamp is an unsigned 64-bit millisecond epoch (spec §3).
type Timestamp = uint64

// TimePoint is a single (timestamp, value) sample. Equality for testing
// purposes compares the timestamp exactly and the value within epsilon;
// ordering is by timestamp only.
type TimePoint struct {
	Ts    Timestamp
	Value float64
}

const epsilon = 1e-9

// Equal reports whether two TimePoints are equal per spec §3: timestamp
// equality plus value-within-epsilon.
func (p TimePoint) Equal(o TimePoint) bool {
	if p.Ts != o.Ts {
		return false
	}
	return math.Abs(p.Value-o.Value) <= epsilon
}

func float64bits(v float64) uint64 { return math.Float64bits(v) }
func bitsFloat64(b uint64) float64 { return math.Float64frombits(b) }
