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

// Package errs defines the error taxonomy shared by every storage engine
// component: callers switch on Kind rather than on concrete types so that
// wrapping with pkg/errors never hides the classification.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error into one of the categories the engine's callers
// need to distinguish (see spec §7).
type Kind int

const (
	KindIo Kind = iota
	KindParse
	KindNotFound
	KindOutOfRange
	KindOption
	KindInternal
	KindSerdeJSON
	KindSerdeYAML
	KindBackend
	KindWalInternal
	KindWalFileIo
	KindWalCRCMismatch
	KindWalCompactionTypeDontMatch
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindParse:
		return "parse"
	case KindNotFound:
		return "not_found"
	case KindOutOfRange:
		return "out_of_range"
	case KindOption:
		return "option"
	case KindInternal:
		return "internal"
	case KindSerdeJSON:
		return "serde_json"
	case KindSerdeYAML:
		return "serde_yaml"
	case KindBackend:
		return "backend"
	case KindWalInternal:
		return "wal_internal"
	case KindWalFileIo:
		return "wal_file_io"
	case KindWalCRCMismatch:
		return "wal_crc_mismatch"
	case KindWalCompactionTypeDontMatch:
		return "wal_compaction_type_dont_match"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every package in this module returns.
// It carries a Kind for callers that need to branch (e.g. the Database
// swallowing NotFound/OutOfRange during a multi-chunk scan) and wraps an
// underlying cause for diagnostics.
type Error struct {
	kind  Kind
	msg   string
	start uint64
	end   uint64
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Kind reports the error's taxonomy classification.
func (e *Error) Kind() Kind { return e.kind }

// Range returns the bounds attached to an OutOfRange error.
func (e *Error) Range() (start, end uint64) { return e.start, e.end }

func new(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func wrap(kind Kind, cause error, msg string) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func Io(cause error, format string, args ...interface{}) error {
	return wrap(KindIo, cause, fmt.Sprintf(format, args...))
}

func Parse(cause error, format string, args ...interface{}) error {
	return wrap(KindParse, cause, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) error {
	return new(KindNotFound, fmt.Sprintf(format, args...))
}

// OutOfRange builds the spec's OutOfRange(start,end) error.
func OutOfRange(start, end uint64) error {
	return &Error{kind: KindOutOfRange, msg: fmt.Sprintf("out of range [%d,%d)", start, end), start: start, end: end}
}

func Option(format string, args ...interface{}) error {
	return new(KindOption, fmt.Sprintf(format, args...))
}

func Internal(format string, args ...interface{}) error {
	return new(KindInternal, fmt.Sprintf(format, args...))
}

func InternalWrap(cause error, format string, args ...interface{}) error {
	return wrap(KindInternal, cause, fmt.Sprintf(format, args...))
}

func SerdeJSON(cause error) error {
	return wrap(KindSerdeJSON, cause, "serde json")
}

func SerdeYAML(cause error) error {
	return wrap(KindSerdeYAML, cause, "serde yaml")
}

func Backend(cause error, format string, args ...interface{}) error {
	return wrap(KindBackend, cause, fmt.Sprintf(format, args...))
}

func WalInternal(format string, args ...interface{}) error {
	return new(KindWalInternal, fmt.Sprintf(format, args...))
}

func WalFileIo(cause error, format string, args ...interface{}) error {
	return wrap(KindWalFileIo, cause, fmt.Sprintf(format, args...))
}

func WalCRCMismatch(format string, args ...interface{}) error {
	return new(KindWalCRCMismatch, fmt.Sprintf(format, args...))
}

func WalCompactionTypeDontMatch(want, got byte) error {
	return new(KindWalCompactionTypeDontMatch, fmt.Sprintf("compaction type mismatch: want %d got %d", want, got))
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind == kind
	}
	return false
}
