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

package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"vspace.dev/vspace/pkg/kernfs"
)

// elfMagic is "\x7FELF" read as a little-endian word.
const elfMagic = 0x464C457F

// Program-header entry kinds and flag bits (ELF64).
const (
	progLoad = 1

	progFlagExec  = 1
	progFlagWrite = 2
	progFlagRead  = 4
)

// fileHeader is the fixed ELF64 file header.
type fileHeader struct {
	Magic     uint32
	Ident     [12]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// progHeader is one ELF64 program-header entry.
type progHeader struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

const (
	fileHeaderSize = 64
	progHeaderSize = 56
)

// readStruct reads the exact encoded size of v from in at off and decodes
// it. A short read is corrupt input.
func readStruct(in kernfs.Inode, off int64, v any) error {
	size := binary.Size(v)
	buf := make([]byte, size)
	if n, err := in.ReadAt(buf, off); n != size {
		return fmt.Errorf("%w: %d of %d header bytes at offset %d (%v)", ErrBadELF, n, size, off, err)
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}
