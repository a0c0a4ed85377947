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

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/kv/memkv"
	"github.com/flowmetric/tsdb/labels"
)

func TestCreateAndExactLookup(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)

	ls := labels.Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	require.NoError(t, x.CreateIndex(ctx, ls, 7))

	id, ok, err := x.GetIDByLabels(ctx, labels.Labels{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), id)

	_, ok, err = x.GetIDByLabels(ctx, labels.Labels{{Name: "a", Value: "1"}})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)
	ls := labels.Labels{{Name: "a", Value: "1"}}
	require.NoError(t, x.CreateIndex(ctx, ls, 1))
	err := x.CreateIndex(ctx, ls, 2)
	require.True(t, errs.Is(err, errs.KindInternal))
}

func TestGetIDsContainingIntersection(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)

	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "1"}}, 1))
	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, 2))
	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}, {Name: "c", Value: "3"}}, 3))

	ids, err := x.GetIDsContaining(ctx, labels.Labels{{Name: "a", Value: "1"}})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, ids)

	ids, err = x.GetIDsContaining(ctx, labels.Labels{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3}, ids)

	ids, err = x.GetIDsContaining(ctx, labels.Labels{{Name: "c", Value: "3"}})
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, ids)
}

func TestIntersectAllManyLists(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)

	for i := uint64(1); i <= 10; i++ {
		ls := labels.Labels{
			{Name: "env", Value: "prod"},
			{Name: "host", Value: "a"},
			{Name: "region", Value: "us"},
			{Name: "svc", Value: "api"},
			{Name: "idx", Value: "x"},
		}
		// Force a distinct full label set per id, but share the first four
		// labels so every posting list below has 10 entries.
		ls = append(ls, labels.Label{Name: "id", Value: string(rune('a' + i))})
		require.NoError(t, x.CreateIndex(ctx, ls, i))
	}

	ids, err := x.GetIDsContaining(ctx, labels.Labels{
		{Name: "env", Value: "prod"},
		{Name: "host", Value: "a"},
		{Name: "region", Value: "us"},
		{Name: "svc", Value: "api"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 10)
}

func TestMaxIDTracksHighestRegisteredID(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)

	maxID, err := x.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), maxID)

	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "1"}}, 3))
	maxID, err = x.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxID)

	// Registering a lower id (as could happen if ids are assigned out of
	// strict creation order by a caller) must not move the counter backward.
	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "2"}}, 1))
	maxID, err = x.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxID)

	require.NoError(t, x.CreateIndex(ctx, labels.Labels{{Name: "a", Value: "3"}}, 9))
	maxID, err = x.MaxID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(9), maxID)
}

func TestGetSeriesMetadataContaining(t *testing.T) {
	ctx := context.Background()
	x := New(memkv.New(), nil)
	ls := labels.Labels{{Name: "a", Value: "1"}}
	require.NoError(t, x.CreateIndex(ctx, ls, 5))

	md, err := x.GetSeriesMetadataContaining(ctx, ls)
	require.NoError(t, err)
	require.Len(t, md, 1)
	require.Equal(t, uint64(5), md[0].ID)
	require.True(t, labels.Equal(ls, md[0].Labels))
}
