// Copyright 2025 The vspace Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vspace

import (
	"errors"
	"fmt"
)

// Recoverable failures. Frame exhaustion is reported as pgalloc.ErrExhausted
// wrapped by the failing operation.
var (
	// ErrBadAddress is returned for a range that crosses the kernel split
	// boundary or is otherwise outside the user-addressable range.
	ErrBadAddress = errors.New("vspace: address outside user range")

	// ErrNotMapped is returned when an operation requires an address to
	// fall inside some region.
	ErrNotMapped = errors.New("vspace: address not mapped")

	// ErrReadOnly is returned for a write through a read-only page.
	ErrReadOnly = errors.New("vspace: page is read-only")

	// ErrShortRead is returned when a file read returns fewer bytes than
	// a page load requires.
	ErrShortRead = errors.New("vspace: short read")
)

// InvariantError is the fault raised (via panic) for conditions that mean
// the bookkeeping and the hardware tree can no longer be trusted to agree:
// double-mapping a mapped page, clearing hardware state while bookkeeping
// still claims it present, installing with no stack or no table. These are
// programming errors, not recoverable failures, but they carry a distinct
// type so tests can assert fatality.
type InvariantError struct {
	msg string
}

// Error implements error.Error.
func (e *InvariantError) Error() string {
	return "vspace: invariant violation: " + e.msg
}

func invariantf(format string, args ...any) {
	panic(&InvariantError{msg: fmt.Sprintf(format, args...)})
}
