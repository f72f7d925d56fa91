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

	"vspace.dev/vspace/pkg/cpu"
	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pagetables"
)

// Commit rebuilds the hardware tree to reflect the regions' bookkeeping:
// first every user sub-tree is released (the data frames stay, they belong
// to the bookkeeping layer), then every mapped page of every region is
// reinstalled with its recorded present/writable bits, always
// user-accessible. Unmapped pages inside a region's extent — holes such as
// inter-segment padding — get no entry.
//
// Commit only synchronizes the tree; it never installs the address space
// on a CPU.
func (vs *VSpace) Commit() error {
	vs.pt.UnmapUser()

	for i := range vs.regions {
		r := &vs.regions[i]
		start, end := r.Bot(), r.Top()
		if !start.IsPageAligned() {
			invariantf("Commit: %v region bottom %#x unaligned", RegionRole(i), uint64(start))
		}
		for va := start; va < end; va += hostarch.PageSize {
			vpi := r.peekPageInfo(va)
			if !vpi.Mapped {
				continue
			}
			opts := pagetables.MapOpts{
				Present:  vpi.Present,
				Writable: vpi.Writable,
				User:     true,
			}
			if err := vs.pt.Map(va, vpi.Frame, opts); err != nil {
				return fmt.Errorf("vspace: committing %v region: %w", RegionRole(i), err)
			}
		}
	}
	return nil
}

// MarkNotPresent clears any stale hardware entry for va after bookkeeping
// has already flipped the page's present bit off. Calling it while
// bookkeeping still claims the page present means the caller forgot to
// update bookkeeping first, which is a fatal fault. A missing hardware
// entry is fine.
//
// Preconditions: va is page-aligned and inside some region.
func (vs *VSpace) MarkNotPresent(va hostarch.Addr) {
	if !va.IsPageAligned() {
		invariantf("MarkNotPresent: unaligned address %#x", uint64(va))
	}
	r := vs.FindRegion(va)
	if r == nil {
		invariantf("MarkNotPresent: %#x is in no region", uint64(va))
	}
	if vpi := r.peekPageInfo(va); vpi.Present {
		invariantf("MarkNotPresent: bookkeeping still claims %#x present", uint64(va))
	}
	vs.pt.ClearEntry(va)
}

// Install switches c to this address space's tree and points the CPU's
// privileged stack at kstackTop. Interrupts are disabled across the pair of
// updates so an interrupt on this CPU never sees a stack pointer and table
// root from different processes.
//
// A zero kernel stack or a released tree is fatal: with no valid table
// every subsequent memory access is undefined.
func (vs *VSpace) Install(c *cpu.CPU, kstackTop uint64) {
	if c == nil {
		invariantf("Install: nil CPU")
	}
	if kstackTop == 0 {
		invariantf("Install: no kernel stack")
	}
	if vs.pt == nil {
		invariantf("Install: page table not initialized")
	}

	c.PushCLI()
	c.TS.RSP0 = kstackTop
	c.SetActiveTable(vs.pt.Root())
	c.PopCLI()
}
