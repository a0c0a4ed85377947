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

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/flowmetric/tsdb/errs"
)

// mmapReadOnly maps path's full contents read-only. Unlike the active
// segment (which a concurrent Writer may still be appending to), closed
// segments are immutable once their trailer lands, so mapping them avoids a
// full read() copy every time startup recovery or a WAL replay walks the
// (possibly large) closed-segment set.
func mmapReadOnly(path string) (mmap.MMap, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errs.WalFileIo(err, "wal: open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, errs.WalFileIo(err, "wal: stat %s", path)
	}
	if info.Size() == 0 {
		return mmap.MMap{}, func() error { return nil }, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, errs.WalFileIo(err, "wal: mmap %s", path)
	}
	return m, m.Unmap, nil
}
