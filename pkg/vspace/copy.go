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

import "fmt"

// CopyFrom deep-copies src into vs for fork: region metadata verbatim, and
// for every mapped page a fresh frame holding a copy of the source page's
// bytes, with the mapped/present/writable bits carried over. On success the
// hardware tree is rebuilt to match.
//
// A failure partway leaves vs partially populated; it is unusable and the
// caller must Free it. There is no copy-on-write: parent and child share no
// frames.
func (vs *VSpace) CopyFrom(src *VSpace) error {
	for i := range vs.regions {
		dst, s := &vs.regions[i], &src.regions[i]
		dst.Base = s.Base
		dst.Size = s.Size
		dst.Dir = s.Dir
		dst.pages = nil

		tail := &dst.pages
		for sc := s.pages; sc != nil; sc = sc.next {
			nc, err := newChunk(vs.k.Mem)
			if err != nil {
				return fmt.Errorf("vspace: duplicating %v region: %w", RegionRole(i), err)
			}
			*tail = nc
			tail = &nc.next

			for j := range sc.infos {
				svpi := &sc.infos[j]
				if !svpi.Mapped {
					continue
				}
				frame, err := vs.k.Mem.Allocate()
				if err != nil {
					return fmt.Errorf("vspace: duplicating %v region: %w", RegionRole(i), err)
				}
				copy(vs.k.Mem.PageBytes(frame), vs.k.Mem.PageBytes(svpi.Frame))
				nc.infos[j] = PageInfo{
					Mapped:   true,
					Present:  svpi.Present,
					Writable: svpi.Writable,
					Frame:    frame,
				}
			}
		}
	}
	return vs.Commit()
}

// Free releases everything the address space owns: every mapped frame and
// every store chunk of every region, then the hardware tree itself. The
// address space has exactly one owner and is destroyed exactly once;
// calling Free twice is use-after-free.
func (vs *VSpace) Free() {
	for i := range vs.regions {
		r := &vs.regions[i]
		for c := r.pages; c != nil; {
			for j := range c.infos {
				if c.infos[j].Mapped {
					vs.k.Mem.Free(c.infos[j].Frame)
				}
			}
			next := c.next
			vs.k.Mem.Free(c.frame)
			c = next
		}
		*r = Region{mem: vs.k.Mem}
	}
	vs.pt.Release()
	vs.pt = nil
}
