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

package chunk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/index"
	"github.com/flowmetric/tsdb/kv/memkv"
	"github.com/flowmetric/tsdb/labels"
	"github.com/flowmetric/tsdb/store"
)

type fakeWal struct {
	entries [][]byte
	seq     uint64
}

func (f *fakeWal) Append(kind byte, payload []byte) (uint64, error) {
	f.entries = append(f.entries, payload)
	f.seq++
	return f.seq - 1, nil
}

func newTestChunk(t *testing.T, start, end uint64, w WalAppender) *Chunk {
	t.Helper()
	backend := memkv.New()
	return New(Config{
		Start: start,
		End:   end,
		Wal:   w,
		Index: index.New(backend, []byte("idx/")),
		Store: store.New(backend, []byte("store/")),
	})
}

func TestInsertAndQueryWithinWindow(t *testing.T) {
	ctx := context.Background()
	fw := &fakeWal{}
	c := newTestChunk(t, 100, 200, fw)

	ls := labels.Labels{{Name: "host", Value: "a"}}
	require.NoError(t, c.Insert(ctx, ls, 100, 1.0))
	require.NoError(t, c.Insert(ctx, ls, 150, 2.0))
	require.Len(t, fw.entries, 2)

	series, err := c.Query(ctx, ls, 0, 1000)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Equal(t, uint64(1), series[0].ID)
	require.Len(t, series[0].Points, 2)
}

func TestInsertRejectsOutOfWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	ls := labels.Labels{{Name: "host", Value: "a"}}

	err := c.Insert(ctx, ls, 99, 1.0)
	require.True(t, errs.Is(err, errs.KindOutOfRange))

	err = c.Insert(ctx, ls, 200, 1.0)
	require.True(t, errs.Is(err, errs.KindOutOfRange))
}

func TestInsertRejectsAfterClose(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	c.Close(150)
	err := c.Insert(ctx, labels.Labels{{Name: "host", Value: "a"}}, 120, 1.0)
	require.True(t, errs.Is(err, errs.KindInternal))
}

func TestCloseClampsEndToNow(t *testing.T) {
	c := newTestChunk(t, 100, 200, &fakeWal{})
	c.Close(150)
	require.Equal(t, uint64(150), c.End())
	require.True(t, c.IsClosed())
}

func TestCloseNoopWhenNowAfterEnd(t *testing.T) {
	c := newTestChunk(t, 100, 200, &fakeWal{})
	c.Close(500)
	require.Equal(t, uint64(200), c.End())
}

func TestQueryClipsToChunkWindow(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	ls := labels.Labels{{Name: "host", Value: "a"}}
	require.NoError(t, c.Insert(ctx, ls, 110, 1.0))
	require.NoError(t, c.Insert(ctx, ls, 190, 2.0))

	series, err := c.Query(ctx, ls, 0, 120)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	require.Equal(t, uint64(110), series[0].Points[0].Ts)
}

func TestQueryNoOverlapReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	ls := labels.Labels{{Name: "host", Value: "a"}}
	require.NoError(t, c.Insert(ctx, ls, 110, 1.0))

	series, err := c.Query(ctx, ls, 500, 600)
	require.NoError(t, err)
	require.Empty(t, series)
}

func TestReplayInsertAppliesToClosedChunk(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	c.Close(200)
	ls := labels.Labels{{Name: "host", Value: "a"}}

	require.NoError(t, c.ReplayInsert(ctx, ls, 110, 1.0))

	series, err := c.Query(ctx, ls, 0, 1000)
	require.NoError(t, err)
	require.Len(t, series, 1)
	require.Len(t, series[0].Points, 1)
	require.Equal(t, uint64(110), series[0].Points[0].Ts)
}

func TestReplayInsertSkipsAlreadyDurablePoint(t *testing.T) {
	ctx := context.Background()
	c := newTestChunk(t, 100, 200, &fakeWal{})
	ls := labels.Labels{{Name: "host", Value: "a"}}
	require.NoError(t, c.Insert(ctx, ls, 110, 1.0))

	// Replaying the same insert (as a WAL entry whose KV commit already
	// landed before a crash would look during recovery) hits the sample
	// store's monotonic-write precondition rather than silently duplicating
	// the point.
	err := c.ReplayInsert(ctx, ls, 110, 1.0)
	require.True(t, errs.Is(err, errs.KindInternal))
}

func TestInsertEntryRoundTrip(t *testing.T) {
	ls := labels.Labels{{Name: "a", Value: "b"}, {Name: "c", Value: "d"}}
	buf := encodeInsertEntry(ls, 42, 3.25)
	gotLs, ts, value, err := DecodeInsertEntry(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(42), ts)
	require.InDelta(t, 3.25, value, 1e-12)
	require.True(t, labels.Equal(ls, gotLs))
}
