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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowmetric/tsdb/errs"
)

func TestWriterEntrySizeMatchesNumBasedPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg0")
	w, err := OpenWriter(path, NumBased(5))
	require.NoError(t, err)

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, w.WriteEntry(Entry{SeqID: seq, Kind: 1, Payload: []byte("abc")}))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	entryBytes := int64(11 + 3 + 4) // seq+kind+len + payload + crc32
	require.Equal(t, int64(8)+5*entryBytes, info.Size())

	require.NoError(t, w.Close())
	info, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(8)+5*entryBytes+24, info.Size())
}

func TestWriterRejectsNonIncreasingSeq(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(filepath.Join(dir, "seg0"), Immediate())
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(Entry{SeqID: 5, Payload: []byte("x")}))
	err = w.WriteEntry(Entry{SeqID: 5, Payload: []byte("y")})
	require.True(t, errs.Is(err, errs.KindWalInternal))
	err = w.WriteEntry(Entry{SeqID: 4, Payload: []byte("y")})
	require.True(t, errs.Is(err, errs.KindWalInternal))
}

func TestSegmentRecoveryPreservesSeqRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg0")
	w, err := OpenWriter(path, Immediate())
	require.NoError(t, err)
	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, w.WriteEntry(Entry{SeqID: seq, Payload: []byte("x")}))
	}
	require.NoError(t, w.Close())

	info, err := ValidateSegment(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.FirstSeq)
	require.Equal(t, uint64(3), info.LastSeq)

	r, err := OpenReader(path)
	require.NoError(t, err)
	var seqs []uint64
	for {
		e, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		seqs = append(seqs, e.SeqID)
	}
	require.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestTruncatedTailIsReportedCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seg0")
	w, err := OpenWriter(path, Immediate())
	require.NoError(t, err)
	require.NoError(t, w.WriteEntry(Entry{SeqID: 1, Payload: []byte("x")}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-4], 0o666))

	_, err = ValidateSegment(path)
	require.True(t, errs.Is(err, errs.KindWalCRCMismatch))
}

func TestManagerAppendAndReopenResumes(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Immediate(), WithSegmentSize(1<<30))
	require.NoError(t, err)
	seq1, err := m.Append(1, []byte("a"))
	require.NoError(t, err)
	seq2, err := m.Append(1, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, seq1+1, seq2)
	require.NoError(t, m.Close())

	m2, err := Open(dir, Immediate(), WithSegmentSize(1<<30))
	require.NoError(t, err)
	seq3, err := m2.Append(1, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, seq2+1, seq3)

	var replayed []uint64
	require.NoError(t, m2.Replay(0, func(e Entry) error {
		replayed = append(replayed, e.SeqID)
		return nil
	}))
	require.Equal(t, []uint64{seq1, seq2, seq3}, replayed)
}

func TestManagerRotatesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Immediate(), WithSegmentSize(40))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := m.Append(1, []byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Greater(t, len(entries), 1)
}

func TestCorruptSegmentSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, Immediate(), WithSegmentSize(1<<30))
	require.NoError(t, err)
	_, err = m.Append(1, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, m.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	segPath := filepath.Join(dir, entries[0].Name())
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(segPath, data, 0o666))

	m2, err := Open(dir, Immediate(), WithSegmentSize(1<<30))
	require.NoError(t, err)
	require.NoError(t, m2.Close())
}
