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
	"fmt"
	"io"

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pgalloc"
)

// Direction is a region's growth direction.
type Direction int

const (
	// GrowsUp regions extend from Base toward higher addresses.
	GrowsUp Direction = iota

	// GrowsDown regions extend from Base toward lower addresses; Base is
	// the exclusive top.
	GrowsDown
)

// vaToIndex maps va to its page index within a region based at base. Within
// one region the mapping is a bijection between page-aligned addresses and
// indices.
func (d Direction) vaToIndex(base, va hostarch.Addr) int {
	switch d {
	case GrowsUp:
		return int((va - base) >> hostarch.PageShift)
	case GrowsDown:
		return int((base - 1 - va) >> hostarch.PageShift)
	default:
		panic(fmt.Sprintf("vspace: invalid direction %d", d))
	}
}

// Region is one contiguous logical sub-range of an address space: code,
// heap or stack. A region owns its page-info store and, through it, every
// mapped frame in its extent.
type Region struct {
	// Base is the region's base address: the inclusive bottom for
	// GrowsUp, the exclusive top for GrowsDown.
	Base hostarch.Addr

	// Size is the region's current extent in bytes. AddMapping never
	// updates it; extending a region is the caller's move.
	Size uint64

	// Dir is the growth direction.
	Dir Direction

	mem   *pgalloc.Memory
	pages *pageInfoChunk
}

// Bot returns the region's lowest address.
func (r *Region) Bot() hostarch.Addr {
	if r.Dir == GrowsDown {
		return r.Base - hostarch.Addr(r.Size)
	}
	return r.Base
}

// Top returns the address one past the region's highest address.
func (r *Region) Top() hostarch.Addr {
	if r.Dir == GrowsDown {
		return r.Base
	}
	return r.Base + hostarch.Addr(r.Size)
}

// Contains reports whether [va, va+size) lies within the region's extent.
// With size == 0 it is a point test that excludes the top boundary address:
// a one-past-the-end pointer is not "in" the region.
func (r *Region) Contains(va hostarch.Addr, size int64) bool {
	if size == 0 && va == r.Top() {
		return false
	}
	return va >= r.Bot() && va+hostarch.Addr(size) <= r.Top()
}

// AddMapping backs [roundUp(from), from+size) with freshly allocated,
// zero-filled frames recorded as mapped with the given present/writable
// bits. size <= 0 is a no-op. The range must stay below the kernel split.
//
// Double-mapping a page that is already mapped is a fatal invariant fault.
// On allocation failure partway through, every page mapped by this call is
// unmapped again and its frame released; earlier calls are untouched.
//
// On success AddMapping returns the requested size, not the number of bytes
// newly backed: the sub-page run between from and the first page boundary
// is never backed. Callers depend on the requested-size return.
func (r *Region) AddMapping(from hostarch.Addr, size int64, present, writable bool) (int64, error) {
	if size <= 0 {
		return 0, nil
	}
	end, ok := from.AddLength(uint64(size))
	if !ok || end >= hostarch.KernelBase {
		return 0, fmt.Errorf("%w: [%#x, %#x)", ErrBadAddress, uint64(from), uint64(from)+uint64(size))
	}

	start := from.MustRoundUp()
	for a := start; a < end; a += hostarch.PageSize {
		vpi, err := r.pageInfo(a)
		if err != nil {
			r.unmapRange(start, a)
			return 0, err
		}
		if vpi.Mapped {
			invariantf("AddMapping: page %#x is already mapped", uint64(a))
		}
		frame, err := r.mem.Allocate()
		if err != nil {
			r.unmapRange(start, a)
			return 0, fmt.Errorf("vspace: backing page %#x: %w", uint64(a), err)
		}
		vpi.Mapped = true
		vpi.Present = present
		vpi.Writable = writable
		vpi.Frame = frame
	}
	return size, nil
}

// unmapRange is AddMapping's compensating action: it clears the records in
// [start, upto) and releases their frames. All touched chunks exist.
func (r *Region) unmapRange(start, upto hostarch.Addr) {
	for a := start; a < upto; a += hostarch.PageSize {
		vpi, err := r.pageInfo(a)
		if err != nil {
			invariantf("unmapRange: record for %#x missing", uint64(a))
		}
		r.mem.Free(vpi.Frame)
		*vpi = PageInfo{}
	}
}

// LoadBytes maps [roundUp(va), va+len(data)) and copies data into the fresh
// pages, splitting the copy at page boundaries.
func (r *Region) LoadBytes(va hostarch.Addr, data []byte, present, writable bool) error {
	if _, err := r.AddMapping(va, int64(len(data)), present, writable); err != nil {
		return err
	}
	for i := 0; i < len(data); i += hostarch.PageSize {
		vpi := r.peekPageInfo(va + hostarch.Addr(i))
		if !vpi.Mapped {
			invariantf("LoadBytes: page %#x not mapped", uint64(va)+uint64(i))
		}
		n := len(data) - i
		if n > hostarch.PageSize {
			n = hostarch.PageSize
		}
		copy(r.mem.PageBytes(vpi.Frame), data[i:i+n])
	}
	return nil
}

// LoadFile reads size bytes from f at offset into the pages backing
// [va, va+size), one page-sized read at a time. Every touched page must
// already be mapped; callers add the mapping first. A short read fails the
// load; the mapping is left in place for the caller to tear down.
//
// Preconditions: va is page-aligned.
func (r *Region) LoadFile(va hostarch.Addr, f io.ReaderAt, offset, size int64) error {
	if !va.IsPageAligned() {
		invariantf("LoadFile: unaligned address %#x", uint64(va))
	}
	for i := int64(0); i < size; i += hostarch.PageSize {
		vpi := r.peekPageInfo(va + hostarch.Addr(i))
		if !vpi.Mapped {
			invariantf("LoadFile: page %#x not mapped", uint64(va)+uint64(i))
		}
		n := size - i
		if n > hostarch.PageSize {
			n = hostarch.PageSize
		}
		pb := r.mem.PageBytes(vpi.Frame)
		if rn, err := f.ReadAt(pb[:n], offset+i); int64(rn) != n {
			return fmt.Errorf("%w: %d of %d bytes at offset %d (%v)", ErrShortRead, rn, n, offset+i, err)
		}
	}
	return nil
}
