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

// Package pagetables provides the hardware page-table tree of the simulated
// machine: an x86-64-style four-level radix tree whose table pages are
// ordinary frames in a pgalloc.Memory bank.
//
// The tree maps page-aligned virtual addresses to physical frames with
// present/writable/user permission bits. It owns its table pages but never
// the data frames its leaf entries point to; those belong to the
// bookkeeping layer above.
package pagetables

import (
	"encoding/binary"
	"fmt"

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pgalloc"
)

const (
	// levels is the depth of the tree: PML4, PDPT, PD, PT.
	levels = 4

	// indexBits is the number of virtual-address bits consumed per level.
	indexBits = 9

	// entriesPerTable is the number of entries in one table page.
	entriesPerTable = 1 << indexBits

	entrySize = 8
)

// MapOpts are the permission bits installed with a mapping.
type MapOpts struct {
	// Present is the hardware present bit. A non-present entry still
	// records its frame and other bits; hardware raises a fault on access.
	Present bool

	// Writable permits stores through the mapping.
	Writable bool

	// User permits unprivileged access.
	User bool
}

// PageTables is one hardware tree rooted at a single table frame.
type PageTables struct {
	mem  *pgalloc.Memory
	root pgalloc.Frame
}

// New allocates an empty tree. The only failure is frame exhaustion.
func New(mem *pgalloc.Memory) (*PageTables, error) {
	root, err := mem.Allocate()
	if err != nil {
		return nil, fmt.Errorf("pagetables: allocating root table: %w", err)
	}
	return &PageTables{mem: mem, root: root}, nil
}

// Root returns the frame holding the top-level table, i.e. the value loaded
// into the CPU's table-root register on install.
func (pt *PageTables) Root() pgalloc.Frame {
	return pt.root
}

// tableIndex extracts the entry index for va at the given level, counting
// levels down from the root: level 0 is the PML4, level 3 the leaf PT.
func tableIndex(va hostarch.Addr, level int) int {
	shift := hostarch.PageShift + indexBits*(levels-1-level)
	return int(uint64(va)>>shift) & (entriesPerTable - 1)
}

func (pt *PageTables) entry(table pgalloc.Frame, index int) PTE {
	pb := pt.mem.PageBytes(table)
	return PTE(binary.LittleEndian.Uint64(pb[index*entrySize:]))
}

func (pt *PageTables) setEntry(table pgalloc.Frame, index int, e PTE) {
	pb := pt.mem.PageBytes(table)
	binary.LittleEndian.PutUint64(pb[index*entrySize:], uint64(e))
}

// walk descends to the leaf table for va. With alloc set, missing
// intermediate tables are created (present, writable, user); without it,
// walk returns false at the first hole.
func (pt *PageTables) walk(va hostarch.Addr, alloc bool) (leaf pgalloc.Frame, index int, ok bool, err error) {
	table := pt.root
	for level := 0; level < levels-1; level++ {
		idx := tableIndex(va, level)
		e := pt.entry(table, idx)
		if !e.Present() {
			if !alloc {
				return 0, 0, false, nil
			}
			next, aerr := pt.mem.Allocate()
			if aerr != nil {
				return 0, 0, false, fmt.Errorf("pagetables: allocating level-%d table: %w", level+1, aerr)
			}
			e = makePTE(next, MapOpts{Present: true, Writable: true, User: true})
			pt.setEntry(table, idx, e)
		}
		table = e.Frame()
	}
	return table, tableIndex(va, levels-1), true, nil
}

// Map installs a single-page mapping from va to frame with the given
// permission bits, creating intermediate tables as needed.
//
// Preconditions: va is page-aligned.
func (pt *PageTables) Map(va hostarch.Addr, frame pgalloc.Frame, opts MapOpts) error {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("pagetables: Map of unaligned address %#x", uint64(va)))
	}
	leaf, idx, _, err := pt.walk(va, true)
	if err != nil {
		return err
	}
	pt.setEntry(leaf, idx, makePTE(frame, opts))
	return nil
}

// Lookup returns the mapping for va, if any. An entry that was installed
// non-present is still reported, with opts.Present false.
func (pt *PageTables) Lookup(va hostarch.Addr) (pgalloc.Frame, MapOpts, bool) {
	leaf, idx, ok, _ := pt.walk(va.RoundDown(), false)
	if !ok {
		return 0, MapOpts{}, false
	}
	e := pt.entry(leaf, idx)
	if e == 0 {
		return 0, MapOpts{}, false
	}
	return e.Frame(), e.Opts(), true
}

// ClearEntry resets the leaf entry for va to empty and reports whether an
// entry existed. A missing entry is not an error; intermediate tables are
// never created.
//
// Preconditions: va is page-aligned.
func (pt *PageTables) ClearEntry(va hostarch.Addr) bool {
	if !va.IsPageAligned() {
		panic(fmt.Sprintf("pagetables: ClearEntry of unaligned address %#x", uint64(va)))
	}
	leaf, idx, ok, _ := pt.walk(va, false)
	if !ok {
		return false
	}
	if pt.entry(leaf, idx) == 0 {
		return false
	}
	pt.setEntry(leaf, idx, 0)
	return true
}

// UnmapUser frees every sub-tree reachable from the top-level entries
// covering [0, UserTop] and resets those entries to empty. Data frames
// pointed to by leaf entries are untouched.
func (pt *PageTables) UnmapUser() {
	last := tableIndex(hostarch.Addr(hostarch.UserTop), 0)
	for idx := 0; idx <= last; idx++ {
		e := pt.entry(pt.root, idx)
		if !e.Present() {
			continue
		}
		pt.freeSubtree(e.Frame(), 1)
		pt.setEntry(pt.root, idx, 0)
	}
}

// Release frees the whole tree, root included. The tree must not be active
// on any CPU.
func (pt *PageTables) Release() {
	for idx := 0; idx < entriesPerTable; idx++ {
		if e := pt.entry(pt.root, idx); e.Present() {
			pt.freeSubtree(e.Frame(), 1)
		}
	}
	pt.mem.Free(pt.root)
	pt.root = pgalloc.NoFrame
}

// freeSubtree frees the table rooted at table, which sits at the given level
// (1 = PDPT .. 3 = leaf PT). Leaf entries point at data frames, which are
// not freed.
func (pt *PageTables) freeSubtree(table pgalloc.Frame, level int) {
	if level < levels-1 {
		for idx := 0; idx < entriesPerTable; idx++ {
			if e := pt.entry(table, idx); e.Present() {
				pt.freeSubtree(e.Frame(), level+1)
			}
		}
	}
	pt.mem.Free(table)
}
