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

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pgalloc"
)

// PageInfo is the bookkeeping record for one logical page of a region.
//
// When Mapped is false the other fields are meaningless and read as zero.
// When Mapped is true, Frame is a physical frame owned exclusively by this
// record; no other PageInfo references the same frame except transiently
// during a duplication.
type PageInfo struct {
	// Mapped records whether the page has a backing frame at all.
	Mapped bool

	// Present is the hardware present bit installed on commit.
	Present bool

	// Writable is the hardware writable bit installed on commit.
	Writable bool

	// Frame is the backing physical frame.
	Frame pgalloc.Frame
}

// pageInfoRecordBytes is the bookkeeping cost of one PageInfo in the
// page-sized chunk layout; it fixes the chunk capacity.
const pageInfoRecordBytes = 16

// infosPerChunk is the number of records per store chunk.
const infosPerChunk = hostarch.PageSize / pageInfoRecordBytes

// pageInfoChunk is one fixed-capacity link of a region's page-info store.
// Each chunk is charged one frame against the physical allocator, so the
// bookkeeping consumes the same resource it manages and store growth can
// fail on exhaustion.
type pageInfoChunk struct {
	frame pgalloc.Frame
	infos [infosPerChunk]PageInfo
	next  *pageInfoChunk
}

func newChunk(mem *pgalloc.Memory) (*pageInfoChunk, error) {
	frame, err := mem.Allocate()
	if err != nil {
		return nil, fmt.Errorf("vspace: growing page-info store: %w", err)
	}
	return &pageInfoChunk{frame: frame}, nil
}

// pageInfo returns the record for va's page, allocating and zeroing any
// missing chunk on the way. Chunks allocated before a failure are retained;
// store growth is irreversible short of a full teardown.
func (r *Region) pageInfo(va hostarch.Addr) (*PageInfo, error) {
	if r.pages == nil {
		c, err := newChunk(r.mem)
		if err != nil {
			return nil, err
		}
		r.pages = c
	}

	idx := r.Dir.vaToIndex(r.Base, va)
	info := r.pages
	for idx >= infosPerChunk {
		if info.next == nil {
			c, err := newChunk(r.mem)
			if err != nil {
				return nil, err
			}
			info.next = c
		}
		info = info.next
		idx -= infosPerChunk
	}
	return &info.infos[idx], nil
}

// peekPageInfo returns the record for va's page without growing the store.
// An absent chunk reads as all-pages-unmapped, indistinguishable from an
// explicitly cleared one.
func (r *Region) peekPageInfo(va hostarch.Addr) PageInfo {
	idx := r.Dir.vaToIndex(r.Base, va)
	info := r.pages
	for info != nil && idx >= infosPerChunk {
		info = info.next
		idx -= infosPerChunk
	}
	if info == nil {
		return PageInfo{}
	}
	return info.infos[idx]
}
