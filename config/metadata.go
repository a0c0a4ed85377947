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

package config

import (
	"encoding/json"
	"os"

	"github.com/flowmetric/tsdb/errs"
)

// DBMetadata is the base-directory metadata.json (spec §6): `{"indexer_type":
// ..., "storage_type":...}`. Its fields are a frozen two-key schema, so
// encoding/json is the right tool rather than a gap (see DESIGN.md).
type DBMetadata struct {
	IndexerType BackendType `json:"indexer_type"`
	StorageType BackendType `json:"storage_type"`
}

// LoadDBMetadata reads path, or returns (zero, false, nil) if it does not
// exist yet (first run).
func LoadDBMetadata(path string) (DBMetadata, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DBMetadata{}, false, nil
	}
	if err != nil {
		return DBMetadata{}, false, errs.Io(err, "config: read db metadata %s", path)
	}
	var m DBMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return DBMetadata{}, false, errs.SerdeJSON(err)
	}
	return m, true, nil
}

// SaveDBMetadata writes m to path.
func SaveDBMetadata(path string, m DBMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errs.SerdeJSON(err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return errs.Io(err, "config: write db metadata %s", path)
	}
	return nil
}

// Validate fails with OptionErr-equivalent if m doesn't match the
// configured backend types (spec §4.G: "mismatched types at startup fail
// with OptionErr").
func (m DBMetadata) Validate(indexer, storage BackendType) error {
	if m.IndexerType != indexer {
		return errs.Option("config: db metadata indexer_type %q != configured %q", m.IndexerType, indexer)
	}
	if m.StorageType != storage {
		return errs.Option("config: db metadata storage_type %q != configured %q", m.StorageType, storage)
	}
	return nil
}

// ChunkMetadata is one chunk directory's metadata.json (spec §6):
// `{"start_time":…, "end_time":…, "identifier":[…]}`. Identifier is a
// fixed [16]byte array rather than a []byte slice so encoding/json renders
// it as a JSON array of numbers, matching spec §6's wire format exactly
// (a []byte would marshal as a base64 string instead).
type ChunkMetadata struct {
	StartTime  uint64   `json:"start_time"`
	EndTime    uint64   `json:"end_time"`
	Identifier [16]byte `json:"identifier"`
}

// LoadChunkMetadata reads a chunk directory's metadata.json.
func LoadChunkMetadata(path string) (ChunkMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChunkMetadata{}, errs.Io(err, "config: read chunk metadata %s", path)
	}
	var m ChunkMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return ChunkMetadata{}, errs.SerdeJSON(err)
	}
	return m, nil
}

// SaveChunkMetadata writes m to path.
func SaveChunkMetadata(path string, m ChunkMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errs.SerdeJSON(err)
	}
	if err := os.WriteFile(path, data, 0o666); err != nil {
		return errs.Io(err, "config: write chunk metadata %s", path)
	}
	return nil
}
