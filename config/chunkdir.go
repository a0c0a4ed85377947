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
	"encoding/binary"
	"encoding/hex"

	"github.com/flowmetric/tsdb/errs"
)

// ChunkDirName returns the 32-char lowercase hex directory name for a
// chunk's [start,end) window: the hex of (start<<64)|end, zero-padded
// (spec §6), which round-trips losslessly through DecodeChunkDirName.
func ChunkDirName(start, end uint64) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], start)
	binary.BigEndian.PutUint64(buf[8:16], end)
	return hex.EncodeToString(buf[:])
}

// DecodeChunkDirName reverses ChunkDirName.
func DecodeChunkDirName(name string) (start, end uint64, err error) {
	if len(name) != 32 {
		return 0, 0, errs.Parse(nil, "config: chunk dir name %q is not 32 hex chars", name)
	}
	buf, decErr := hex.DecodeString(name)
	if decErr != nil {
		return 0, 0, errs.Parse(decErr, "config: chunk dir name %q is not valid hex", name)
	}
	start = binary.BigEndian.Uint64(buf[0:8])
	end = binary.BigEndian.Uint64(buf[8:16])
	return start, end, nil
}
