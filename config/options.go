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

// Package config holds the database's on-disk options file (yaml) and the
// two frozen metadata documents spec §6 fixes the wire format of
// (db-level and chunk-level metadata.json, encoding/json).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flowmetric/tsdb/errs"
	"github.com/flowmetric/tsdb/kv"
	"github.com/flowmetric/tsdb/wal"
)

// BackendType names a kv.Backend implementation, persisted in Options and
// in the db-level metadata.json (spec §4.G: "recording the indexer and
// store type names; mismatched types at startup fail with OptionErr").
// It is an alias of kv.Type so config and kv never disagree on spelling.
type BackendType = kv.Type

const (
	BackendEmbedded = kv.TypeEmbedded
	BackendRemote   = kv.TypeRemote
	BackendMemory   = kv.TypeMemory
)

// SyncPolicyOptions is the yaml-facing form of wal.SyncPolicy; exactly one
// of the fields matching Kind is meaningful.
type SyncPolicyOptions struct {
	Kind     string        `yaml:"kind"` // immediate | num_based | size_based | time_based
	N        int           `yaml:"n,omitempty"`
	Bytes    int64         `yaml:"bytes,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// ToSyncPolicy converts to the wal package's runtime representation.
func (o SyncPolicyOptions) ToSyncPolicy() (wal.SyncPolicy, error) {
	switch o.Kind {
	case "", "immediate":
		return wal.Immediate(), nil
	case "num_based":
		return wal.NumBased(o.N), nil
	case "size_based":
		return wal.SizeBased(o.Bytes), nil
	case "time_based":
		return wal.TimeBased(o.Interval), nil
	default:
		return wal.SyncPolicy{}, errs.Option("config: unknown sync policy kind %q", o.Kind)
	}
}

// Options is the database's on-disk configuration, loaded once at startup.
type Options struct {
	// BaseDir is the root directory housing chunk directories, wal/ and
	// the db-level metadata.json.
	BaseDir string `yaml:"base_dir"`
	// ChunkSize is the window width of every chunk and the rotation
	// period (spec §4.G).
	ChunkSize time.Duration `yaml:"chunk_size"`

	IndexerType BackendType `yaml:"indexer_type"`
	StorageType BackendType `yaml:"storage_type"`

	// Endpoints configures the remote backend when IndexerType/StorageType
	// is "remote" (spec §4.H: "a list of endpoints").
	Endpoints []string `yaml:"endpoints,omitempty"`

	Sync SyncPolicyOptions `yaml:"sync,omitempty"`

	// WalSegmentSize overrides the WAL's rotation threshold; 0 uses the
	// package default.
	WalSegmentSize int64 `yaml:"wal_segment_size,omitempty"`
}

// Default returns the zero-configuration Options: a memory backend with
// an immediate sync policy and a one-hour chunk window. Unlike Load, it
// needs no options file.
func Default(baseDir string) Options {
	return Options{
		BaseDir:     baseDir,
		ChunkSize:   time.Hour,
		IndexerType: BackendMemory,
		StorageType: BackendMemory,
		Sync:        SyncPolicyOptions{Kind: "immediate"},
	}
}

// Load reads and parses an Options document from path.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errs.Io(err, "config: read options %s", path)
	}
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, errs.SerdeYAML(err)
	}
	if o.ChunkSize <= 0 {
		return Options{}, errs.Option("config: chunk_size must be positive")
	}
	return o, nil
}

// Save writes o to path as yaml.
func Save(path string, o Options) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return errs.SerdeYAML(err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return errs.Io(err, "config: write options %s", path)
	}
	return nil
}
