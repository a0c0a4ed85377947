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

import "time"

// SyncPolicyKind enumerates the four sync strategies spec §4.E defines.
type SyncPolicyKind int

const (
	// SyncImmediate flushes and fsyncs on every write.
	SyncImmediate SyncPolicyKind = iota
	// SyncNumBased buffers N entries then flushes and fsyncs.
	SyncNumBased
	// SyncSizeBased buffers until queued bytes reach a threshold.
	SyncSizeBased
	// SyncTimeBased flushes and fsyncs on a fixed background interval.
	SyncTimeBased
)

// SyncPolicy configures when a segment Writer forces a flush+fsync beyond
// an explicit Sync() call.
type SyncPolicy struct {
	Kind     SyncPolicyKind
	N        int           // SyncNumBased
	Bytes    int64         // SyncSizeBased
	Interval time.Duration // SyncTimeBased
}

// Immediate returns the Immediate sync policy.
func Immediate() SyncPolicy { return SyncPolicy{Kind: SyncImmediate} }

// NumBased returns a policy that syncs every n entries.
func NumBased(n int) SyncPolicy { return SyncPolicy{Kind: SyncNumBased, N: n} }

// SizeBased returns a policy that syncs once queued bytes reach b.
func SizeBased(b int64) SyncPolicy { return SyncPolicy{Kind: SyncSizeBased, Bytes: b} }

// TimeBased returns a policy that syncs on a background timer every d.
func TimeBased(d time.Duration) SyncPolicy { return SyncPolicy{Kind: SyncTimeBased, Interval: d} }
