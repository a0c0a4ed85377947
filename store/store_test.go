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

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/kv/memkv"
)

func TestWritePointMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New(memkv.New(), nil)

	require.NoError(t, s.WritePoint(ctx, 1, 1000, 1.0))
	require.NoError(t, s.WritePoint(ctx, 1, 1500, 2.0))
	err := s.WritePoint(ctx, 1, 1500, 3.0)
	require.True(t, errs.Is(err, errs.KindInternal))
	err = s.WritePoint(ctx, 1, 1000, 3.0)
	require.True(t, errs.Is(err, errs.KindInternal))
}

func TestReadRangeTrim(t *testing.T) {
	ctx := context.Background()
	s := New(memkv.New(), nil)

	for _, p := range []struct {
		ts uint64
		v  float64
	}{{1000, 1}, {1500, 2}, {2000, 3}, {2500, 4}} {
		require.NoError(t, s.WritePoint(ctx, 7, p.ts, p.v))
	}

	points, err := s.ReadRange(ctx, 7, 1200, 2200)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, uint64(1500), points[0].Ts)
	require.Equal(t, uint64(2000), points[1].Ts)
}

func TestReadRangeNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(memkv.New(), nil)
	_, err := s.ReadRange(ctx, 99, 0, 100)
	require.True(t, errs.Is(err, errs.KindNotFound))
}

func TestReadRangeOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := New(memkv.New(), nil)
	require.NoError(t, s.WritePoint(ctx, 1, 1000, 1.0))
	_, err := s.ReadRange(ctx, 1, 2000, 3000)
	require.True(t, errs.Is(err, errs.KindOutOfRange))
}

func TestNamespacedKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	backend := memkv.New()
	a := New(backend, []byte("0123456789ABCDEF"))
	b := New(backend, []byte("FEDCBA9876543210"))

	require.NoError(t, a.WritePoint(ctx, 1, 100, 1.0))
	require.NoError(t, b.WritePoint(ctx, 1, 200, 2.0))

	pa, err := a.ReadRange(ctx, 1, 0, 1000)
	require.NoError(t, err)
	require.Len(t, pa, 1)
	require.Equal(t, uint64(100), pa[0].Ts)
}
