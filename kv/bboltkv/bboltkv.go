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

// Package bboltkv is the embedded ordered KV backend rooted at a chunk
// directory (spec §4.C, §4.D "embedded ordered KV"), grounded on
// etcd's own bolt-backed mvcc store (_examples/thistonyuncle-etcd/mvcc/kvstore.go).
package bboltkv

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/flowmetric/tsdb/errs"
)

var bucketName = []byte("kv")

// Backend is a single bbolt database file per chunk component directory
// (spec §6: "storage/" and "indexer/" each hold embedded KV files).
type Backend struct {
	db   *bbolt.DB
	path string
}

// Open opens (creating if necessary) the bbolt file at dir/data.db. The
// backend is always opened read-write: write protection for a closed chunk
// is enforced at the chunk level (spec §9: the write lock observes the
// closed flag), not at the KV layer, because WAL replay must still be able
// to apply entries a recovered (closed) chunk is missing. bbolt already
// mmaps the data file itself for reads; a second, separate read-only mmap
// of the same bytes would protect and read nothing, so this backend does
// not keep one (see the wal package's mmap-go use for segment files, whose
// flat layout this code actually parses by hand).
func Open(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, errs.Io(err, "bboltkv: mkdir %s", dir)
	}
	path := filepath.Join(dir, "data.db")

	opts := &bbolt.Options{Timeout: time.Second}
	db, err := bbolt.Open(path, 0o666, opts)
	if err != nil {
		return nil, errs.Io(err, "bboltkv: open %s", path)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		return nil, errs.Backend(err, "bboltkv: create bucket")
	}

	return &Backend{db: db, path: path}, nil
}

func (b *Backend) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}
		v := bucket.Get(key)
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, errs.Backend(err, "bboltkv: get")
	}
	return out, out != nil, nil
}

func (b *Backend) Set(_ context.Context, key []byte, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		return bucket.Put(key, value)
	})
	if err != nil {
		return errs.Backend(err, "bboltkv: set")
	}
	return nil
}

func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		return errs.Io(err, "bboltkv: close")
	}
	return nil
}
