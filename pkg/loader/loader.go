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

// Package loader populates an address space's code and heap regions from an
// ELF64 executable.
//
// The loader only touches bookkeeping; after a successful load the caller
// commits the address space to rebuild the hardware tree.
package loader

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/kernfs"
	"vspace.dev/vspace/pkg/vspace"
)

var (
	// ErrNoProgram is returned when the named executable does not exist.
	// It surfaces to the invoking process as "cannot execute".
	ErrNoProgram = errors.New("loader: no such program")

	// ErrBadELF is returned for a malformed or truncated executable.
	ErrBadELF = errors.New("loader: bad ELF")
)

// LoadCode parses the executable at path and populates vs's code region
// with its loadable segments: the code base is the first segment's
// page-rounded-down address, each segment is mapped present (writable per
// its flags) and its file bytes copied in, with the memsz tail left
// zero-filled. The heap region is placed one guard page past the
// page-rounded code end, at zero size.
//
// On success LoadCode returns the entry point and the requested byte count
// of the final segment's mapping. On failure the address space may hold
// partial mappings; the caller tears it down. The hardware tree is never
// touched — callers Commit afterwards.
func LoadCode(vs *vspace.VSpace, fs kernfs.FileSystem, path string) (entry uint64, size int64, err error) {
	ip, err := fs.Namei(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoProgram, path)
	}
	ip.Lock()
	defer ip.Release()
	defer ip.Unlock()

	var hdr fileHeader
	if err := readStruct(ip, 0, &hdr); err != nil {
		return 0, 0, err
	}
	if hdr.Magic != elfMagic {
		return 0, 0, fmt.Errorf("%w: bad magic %#x", ErrBadELF, hdr.Magic)
	}

	code := vs.Region(vspace.RegionCode)
	var (
		firstSegment = true
		codeEnd      hostarch.Addr
		lastSize     int64
	)

	for i := 0; i < int(hdr.Phnum); i++ {
		var ph progHeader
		off := int64(hdr.Phoff) + int64(i)*progHeaderSize
		if err := readStruct(ip, off, &ph); err != nil {
			return 0, 0, err
		}
		if ph.Type != progLoad {
			continue
		}
		if ph.Memsz < ph.Filesz {
			return 0, 0, fmt.Errorf("%w: segment %d memsz %#x < filesz %#x", ErrBadELF, i, ph.Memsz, ph.Filesz)
		}
		// Memsz must fit the signed byte counts the region layer takes; a
		// top-bit memsz would otherwise read as a negative, no-op mapping.
		if int64(ph.Memsz) < 0 || ph.Vaddr+ph.Memsz < ph.Vaddr {
			return 0, 0, fmt.Errorf("%w: segment %d memsz %#x wraps the address space", ErrBadELF, i, ph.Memsz)
		}

		if firstSegment {
			code.Base = hostarch.Addr(ph.Vaddr).RoundDown()
			firstSegment = false
		}

		writable := ph.Flags&progFlagWrite != 0
		sz, err := code.AddMapping(hostarch.Addr(ph.Vaddr), int64(ph.Memsz), true, writable)
		if err != nil {
			return 0, 0, err
		}
		if !hostarch.Addr(ph.Vaddr).IsPageAligned() {
			return 0, 0, fmt.Errorf("%w: segment %d vaddr %#x unaligned", ErrBadELF, i, ph.Vaddr)
		}

		codeEnd = hostarch.Addr(ph.Vaddr + ph.Memsz)

		if err := code.LoadFile(hostarch.Addr(ph.Vaddr), ip, int64(ph.Off), int64(ph.Filesz)); err != nil {
			return 0, 0, err
		}
		lastSize = sz

		logrus.WithFields(logrus.Fields{
			"path":     path,
			"vaddr":    fmt.Sprintf("%#x", ph.Vaddr),
			"memsz":    ph.Memsz,
			"filesz":   ph.Filesz,
			"writable": writable,
		}).Debug("loaded segment")
	}

	if firstSegment {
		return 0, 0, fmt.Errorf("%w: no loadable segments", ErrBadELF)
	}

	code.Size = uint64(codeEnd - code.Base)

	// Heap starts empty one guard page past the rounded code end.
	heap := vs.Region(vspace.RegionHeap)
	heap.Base = codeEnd.MustRoundUp() + hostarch.PageSize
	heap.Size = 0

	return hdr.Entry, lastSize, nil
}
