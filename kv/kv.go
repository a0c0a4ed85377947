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

// Package kv defines the byte-store abstraction the sample store and label
// indexer are built on (spec §4.H): a uniform get/set contract with
// interchangeable embedded, remote and in-memory implementations.
package kv

import "context"

// Backend is the capability set every storage/index backend needs: get,
// set and close. Per-chunk component identifier assignment is the separate
// ComponentInitializer interface below.
type Backend interface {
	// Get returns the value for key, or ok=false if absent.
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key []byte, value []byte) error
	// Close releases any resources the backend holds.
	Close() error
}

// ComponentInitializer is implemented by backends that need a stable
// per-chunk identifier namespace (the remote backend; embedded backends
// are already namespaced by directory and don't need it).
type ComponentInitializer interface {
	// InitComponent deterministically assigns and persists a 16-byte id
	// for the given chunk's indexer or storage component, reusing the
	// same id across restarts (spec §4.H).
	InitComponent(ctx context.Context, chunkID string, isIndexer bool) ([16]byte, error)
}

// Type names the backend kind, persisted in db metadata.json so a restart
// can refuse an incompatible backend combination (spec §4.G).
type Type string

const (
	TypeEmbedded Type = "embedded"
	TypeRemote   Type = "remote"
	TypeMemory   Type = "memory"
)
