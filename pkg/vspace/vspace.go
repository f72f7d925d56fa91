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

// Package vspace implements per-process virtual address spaces: software
// bookkeeping of every mapped logical page, and the machinery to keep the
// hardware page-table tree synchronized with it.
//
// An address space is mutated only by the kernel on behalf of its owning
// process and is installed on one CPU at a time, so nothing here takes
// locks; the shared collaborators (pgalloc, kernfs) are internally locked.
// After any batch of bookkeeping changes the caller rebuilds the hardware
// tree with Commit — the tree is never updated implicitly.
package vspace

import (
	"fmt"

	"vspace.dev/vspace/pkg/cpu"
	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pagetables"
	"vspace.dev/vspace/pkg/pgalloc"
)

// RegionRole names the fixed regions of an address space.
type RegionRole int

const (
	// RegionCode holds the loaded binary image. Grows up.
	RegionCode RegionRole = iota

	// RegionHeap is the sbrk arena, placed after the code. Grows up.
	RegionHeap

	// RegionStack is the user stack. Grows down from its base.
	RegionStack

	numRegions
)

// String implements fmt.Stringer.
func (role RegionRole) String() string {
	switch role {
	case RegionCode:
		return "code"
	case RegionHeap:
		return "heap"
	case RegionStack:
		return "stack"
	default:
		return fmt.Sprintf("region(%d)", int(role))
	}
}

// Kernel is the process-wide state of the subsystem: the physical memory
// bank and the kernel-only page-table tree. It is created once by Boot and
// read-only afterwards.
type Kernel struct {
	// Mem is the shared physical page allocator.
	Mem *pgalloc.Memory

	kernelPT *pagetables.PageTables
}

// Boot creates the kernel page-table tree. It must run before any address
// space is created or installed.
func Boot(mem *pgalloc.Memory) (*Kernel, error) {
	pt, err := pagetables.New(mem)
	if err != nil {
		return nil, fmt.Errorf("vspace: booting kernel tables: %w", err)
	}
	return &Kernel{Mem: mem, kernelPT: pt}, nil
}

// InstallKernel switches c to the kernel-only tree, with no per-process
// regions mapped.
func (k *Kernel) InstallKernel(c *cpu.CPU) {
	c.SetActiveTable(k.kernelPT.Root())
}

// VSpace is one process's address space: a fixed set of regions plus a
// hardware page-table tree. Regions never overlap; that holds by
// construction of the loader and init paths, not by dynamic checks.
type VSpace struct {
	k       *Kernel
	pt      *pagetables.PageTables
	regions [numRegions]Region
}

// NewVSpace returns an address space with an empty hardware tree and zeroed
// regions: code and heap growing up, stack growing down.
func (k *Kernel) NewVSpace() (*VSpace, error) {
	pt, err := pagetables.New(k.Mem)
	if err != nil {
		return nil, fmt.Errorf("vspace: creating page tables: %w", err)
	}
	vs := &VSpace{k: k, pt: pt}
	for i := range vs.regions {
		vs.regions[i] = Region{mem: k.Mem}
	}
	vs.regions[RegionCode].Dir = GrowsUp
	vs.regions[RegionHeap].Dir = GrowsUp
	vs.regions[RegionStack].Dir = GrowsDown
	return vs, nil
}

// Region returns the region with the given role.
func (vs *VSpace) Region(role RegionRole) *Region {
	return &vs.regions[role]
}

// FindRegion returns the region whose extent contains va, or nil.
func (vs *VSpace) FindRegion(va hostarch.Addr) *Region {
	for i := range vs.regions {
		r := &vs.regions[i]
		if va >= r.Bot() && va < r.Top() {
			return r
		}
	}
	return nil
}

// Contains reports whether [va, va+size) lies within a single region of the
// address space.
func (vs *VSpace) Contains(va hostarch.Addr, size int64) bool {
	r := vs.FindRegion(va)
	if r == nil {
		return false
	}
	return r.Contains(va, size)
}

// WriteToVA copies data into the address space at va, page by page. Every
// touched page must be inside some region and writable; writes that reach
// an unmapped or read-only page fail partway with the earlier pages
// already written.
func (vs *VSpace) WriteToVA(va hostarch.Addr, data []byte) error {
	if len(data) == 0 {
		invariantf("WriteToVA: empty write at %#x", uint64(va))
	}
	if end, ok := va.AddLength(uint64(len(data))); !ok || end >= hostarch.KernelBase {
		invariantf("WriteToVA: [%#x, %#x) crosses the kernel split", uint64(va), uint64(va)+uint64(len(data)))
	}

	for len(data) > 0 {
		pageEnd := va.RoundDown() + hostarch.PageSize
		n := int(pageEnd - va)
		if n > len(data) {
			n = len(data)
		}

		r := vs.FindRegion(va)
		if r == nil {
			return fmt.Errorf("%w: %#x", ErrNotMapped, uint64(va))
		}
		vpi := r.peekPageInfo(va)
		if !vpi.Mapped {
			invariantf("WriteToVA: page %#x inside %v region but unmapped", uint64(va), r.Dir)
		}
		if !vpi.Writable {
			return fmt.Errorf("%w: %#x", ErrReadOnly, uint64(va))
		}

		pb := vs.k.Mem.PageBytes(vpi.Frame)
		copy(pb[va.PageOffset():], data[:n])
		va += hostarch.Addr(n)
		data = data[n:]
	}
	return nil
}
