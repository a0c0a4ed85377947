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

package metrics

import (
	"context"

	"github.com/flowmetric/tsdb/kv"
)

// InstrumentedBackend wraps a kv.Backend, counting every Get/Set against m.
type InstrumentedBackend struct {
	kv.Backend
	m *Metrics
}

// Instrument wraps backend so every call increments the kv counters on m.
func Instrument(backend kv.Backend, m *Metrics) kv.Backend {
	return &InstrumentedBackend{Backend: backend, m: m}
}

func (b *InstrumentedBackend) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	b.m.KVGets.Inc()
	return b.Backend.Get(ctx, key)
}

func (b *InstrumentedBackend) Set(ctx context.Context, key []byte, value []byte) error {
	b.m.KVSets.Inc()
	return b.Backend.Set(ctx, key, value)
}
