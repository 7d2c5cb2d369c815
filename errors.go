// Copyright 2024 The JLS Authors
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

package jls

import "github.com/pkg/errors"

// Kind is one of the small set of error kinds the public API surfaces.
// Errors the package raises itself carry one of these, recoverable with
// ErrorKind; operating-system errors are wrapped without a Kind, and
// ErrorKind reports 0 for them.
type Kind int

const (
	// KindParameterInvalid marks a null argument, out-of-range id, or
	// malformed payload.
	KindParameterInvalid Kind = iota + 1
	// KindNotEnoughMemory marks a fixed-buffer or allocation exhaustion.
	KindNotEnoughMemory
	// KindAlreadyExists marks a duplicate source or signal id on the writer.
	KindAlreadyExists
	// KindNotFound marks a reader lookup against an undefined id.
	KindNotFound
	// KindNotSupported marks an unimplemented data type or operation.
	KindNotSupported
	// KindTooBig marks a payload larger than the reader's buffer; the
	// caller must grow the buffer and retry.
	KindTooBig
	// KindEmpty marks end of file or end of a chain.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindParameterInvalid:
		return "PARAMETER_INVALID"
	case KindNotEnoughMemory:
		return "NOT_ENOUGH_MEMORY"
	case KindAlreadyExists:
		return "ALREADY_EXISTS"
	case KindNotFound:
		return "NOT_FOUND"
	case KindNotSupported:
		return "NOT_SUPPORTED"
	case KindTooBig:
		return "TOO_BIG"
	case KindEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

// kindError carries a Kind alongside the usual error message so that call
// sites can recover the kind with As after pkg/errors has wrapped it any
// number of times.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.msg }

// newErr constructs a new error carrying the given kind. Each call returns
// a distinct value; compare kinds with ErrorKind or Kind.Is, not with ==.
func newErr(k Kind, msg string) error {
	return &kindError{kind: k, msg: msg}
}

// errKind recovers the Kind of err, walking wrapped causes. ok is false if
// err is nil or was never produced via newErr.
func errKind(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return 0, false
}

// Is reports whether err (or any error it wraps) carries kind k, as in
// `jls.KindNotFound.Is(err)`. Kind is not itself an error, so it cannot
// serve as the target of errors.Is.
func (k Kind) Is(err error) bool {
	got, ok := errKind(err)
	return ok && got == k
}

// ErrorKind returns the Kind carried by err, or 0 if err does not carry one
// (including err == nil).
func ErrorKind(err error) Kind {
	k, _ := errKind(err)
	return k
}
