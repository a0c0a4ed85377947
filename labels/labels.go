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

// Package labels implements the label set model shared by the indexer,
// sample store and chunk: an ordered collection of non-empty (key, value)
// pairs identifying one time series.
package labels

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var keyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Label is a single (key, value) pair. Both fields must be non-empty; Name
// must match [A-Za-z_][A-Za-z0-9_]* so canonical encodings can split on the
// first '=' unambiguously.
type Label struct {
	Name  string
	Value string
}

// Valid reports whether l can legally appear in a Labels set.
func (l Label) Valid() bool {
	return l.Name != "" && l.Value != "" && keyRe.MatchString(l.Name)
}

// Labels is an ordered set of Label. The zero value is a legal, empty set
// that never matches any series.
type Labels []Label

// Sort orders ls in place by Name ascending, per spec §3.
func (ls Labels) Sort() {
	sort.Sort(byName(ls))
}

type byName Labels

func (s byName) Len() int           { return len(s) }
func (s byName) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byName) Less(i, j int) bool { return s[i].Name < s[j].Name }

// Sorted returns a sorted copy of ls, leaving ls untouched.
func (ls Labels) Sorted() Labels {
	out := make(Labels, len(ls))
	copy(out, ls)
	out.Sort()
	return out
}

// Valid reports whether every label in the set is individually valid and
// there are no duplicate names.
func (ls Labels) Valid() bool {
	seen := make(map[string]struct{}, len(ls))
	for _, l := range ls {
		if !l.Valid() {
			return false
		}
		if _, ok := seen[l.Name]; ok {
			return false
		}
		seen[l.Name] = struct{}{}
	}
	return true
}

// Equal reports element-wise equality after both sides are sorted.
func Equal(a, b Labels) bool {
	a, b = a.Sorted(), b.Sorted()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Compare orders two label sets the way teacher's tsdb/labels.Compare does:
// lexicographically by successive (name, value) pairs, shorter-is-smaller
// on common prefix.
func Compare(a, b Labels) int {
	a, b = a.Sorted(), b.Sorted()
	l := len(a)
	if len(b) < l {
		l = len(b)
	}
	for i := 0; i < l; i++ {
		if c := strings.Compare(a[i].Name, b[i].Name); c != 0 {
			return c
		}
		if c := strings.Compare(a[i].Value, b[i].Value); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

// Hash returns a stable hash of the sorted label set, used by callers that
// want a cheap pre-filter before an exact indexer lookup.
func (ls Labels) Hash() uint64 {
	sorted := ls.Sorted()
	h := xxhash.New()
	for i, l := range sorted {
		if i > 0 {
			_, _ = h.WriteString(",")
		}
		_, _ = h.WriteString(l.Name)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(l.Value)
	}
	return h.Sum64()
}

// Get returns the value of the label named name, and whether it was present.
func (ls Labels) Get(name string) (string, bool) {
	for _, l := range ls {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// Encode renders the canonical full-set-to-id key form from spec §4.D:
// sorted by name, joined by ','. With withPrefix the result is prefixed
// with "L" for use as the full-set index key; otherwise it is the bare
// comma-joined form used inside id-to-label-set values ("I{id}" payload).
func Encode(ls Labels, withPrefix bool) string {
	sorted := ls.Sorted()
	var b strings.Builder
	if withPrefix {
		b.WriteByte('L')
	}
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Name)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	return b.String()
}

// Decode parses the comma-joined canonical form back into a sorted Labels
// set. Each pair is split at the first '=', which is unambiguous because
// label names cannot contain '='.
func Decode(s string) Labels {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Labels, 0, len(parts))
	for _, p := range parts {
		idx := strings.IndexByte(p, '=')
		if idx < 0 {
			continue
		}
		out = append(out, Label{Name: p[:idx], Value: p[idx+1:]})
	}
	out.Sort()
	return out
}
