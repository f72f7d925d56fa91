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

package pagetables

import (
	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pgalloc"
)

// PTE is one page-table entry in x86-64 layout: permission bits in the low
// bits, the physical frame address in bits 12..51. The zero value is an
// empty entry.
type PTE uint64

const (
	ptePresent  PTE = 1 << 0
	pteWritable PTE = 1 << 1
	pteUser     PTE = 1 << 2

	pteFrameMask PTE = 0x000F_FFFF_FFFF_F000
)

func makePTE(frame pgalloc.Frame, opts MapOpts) PTE {
	e := PTE(frame.Address()) & pteFrameMask
	if opts.Present {
		e |= ptePresent
	}
	if opts.Writable {
		e |= pteWritable
	}
	if opts.User {
		e |= pteUser
	}
	return e
}

// Present returns whether the hardware present bit is set.
func (e PTE) Present() bool {
	return e&ptePresent != 0
}

// Frame returns the physical frame this entry points to.
func (e PTE) Frame() pgalloc.Frame {
	return pgalloc.Frame(uint64(e&pteFrameMask) >> hostarch.PageShift)
}

// Opts returns the permission bits of the entry.
func (e PTE) Opts() MapOpts {
	return MapOpts{
		Present:  e&ptePresent != 0,
		Writable: e&pteWritable != 0,
		User:     e&pteUser != 0,
	}
}
