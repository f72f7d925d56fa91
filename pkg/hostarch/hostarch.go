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

// Package hostarch defines the simulated machine's address arithmetic and
// fixed memory layout.
package hostarch

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of a physical page frame and of one unit of
	// virtual address mapping.
	PageSize = 1 << PageShift

	// WordSize is the machine word size in bytes.
	WordSize = 8
)

// Fixed layout of the virtual address space. Everything at or above
// KernelBase is reserved; user mappings must stay strictly below it.
const (
	// KernelBase is the split between the user-addressable range and the
	// reserved kernel range.
	KernelBase = 0xFFFF_FFFF_8000_0000

	// UserTop bounds the range of top-level page-table entries that hold
	// user mappings. Rebuilding an address space resets exactly the
	// top-level entries covering [0, UserTop].
	UserTop = 1 << 32

	// UserStackBase is where the initial process's stack is placed. The
	// stack grows down from this address.
	UserStackBase = 1 << 31

	// InitCodeBase is the load address for the initial process's code.
	InitCodeBase = 0x10000
)
