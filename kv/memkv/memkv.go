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

// Package memkv is the in-memory kv.Backend used for the "memory" backend
// type and throughout the test suite (spec §4.H). db.Open does not
// substitute it for the "remote" backend type when no endpoints are
// configured: that type always dials TiKV.
package memkv

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Backend is a plain mutex-guarded map satisfying kv.Backend and
// kv.ComponentInitializer.
type Backend struct {
	mu   sync.RWMutex
	data map[string][]byte
	comp map[string][16]byte // chunkID+"/indexer" or chunkID+"/storage" -> uuid
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		data: make(map[string][]byte),
		comp: make(map[string][16]byte),
	}
}

func (b *Backend) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *Backend) Set(_ context.Context, key []byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	b.data[string(key)] = v
	return nil
}

func (b *Backend) Close() error { return nil }

func (b *Backend) InitComponent(_ context.Context, chunkID string, isIndexer bool) ([16]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := chunkID + "/storage"
	if isIndexer {
		key = chunkID + "/indexer"
	}
	if id, ok := b.comp[key]; ok {
		return id, nil
	}
	id := [16]byte(uuid.New())
	b.comp[key] = id
	return id, nil
}
