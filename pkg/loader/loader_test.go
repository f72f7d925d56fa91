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
	"errors"
	"testing"

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/kernfs"
	"vspace.dev/vspace/pkg/pgalloc"
	"vspace.dev/vspace/pkg/vspace"
)

type testSegment struct {
	vaddr   uint64
	flags   uint32
	content []byte
	memsz   uint64
}

// buildELF assembles a minimal ELF64 image: file header, program headers,
// then segment contents at page-aligned file offsets.
func buildELF(t *testing.T, entry uint64, segs []testSegment) []byte {
	t.Helper()
	var phdrs []progHeader
	contentOff := uint64(hostarch.PageSize)
	for _, s := range segs {
		phdrs = append(phdrs, progHeader{
			Type:   progLoad,
			Flags:  s.flags,
			Off:    contentOff,
			Vaddr:  s.vaddr,
			Filesz: uint64(len(s.content)),
			Memsz:  s.memsz,
			Align:  hostarch.PageSize,
		})
		contentOff += uint64(hostarch.Addr(len(s.content)).MustRoundUp())
	}

	hdr := fileHeader{
		Magic: elfMagic,
		Type:  2, // ET_EXEC
		Entry: entry,
		Phoff: fileHeaderSize,
		Phnum: uint16(len(segs)),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatalf("encoding file header: %v", err)
	}
	for i := range phdrs {
		if err := binary.Write(&buf, binary.LittleEndian, &phdrs[i]); err != nil {
			t.Fatalf("encoding program header: %v", err)
		}
	}
	for i, s := range segs {
		pad := int(phdrs[i].Off) - buf.Len()
		if pad < 0 {
			t.Fatalf("segment %d overlaps headers", i)
		}
		buf.Write(make([]byte, pad))
		buf.Write(s.content)
	}
	return buf.Bytes()
}

func newTestVSpace(t *testing.T) (*vspace.Kernel, *vspace.VSpace) {
	t.Helper()
	k, err := vspace.Boot(pgalloc.NewMemory(256))
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	vs, err := k.NewVSpace()
	if err != nil {
		t.Fatalf("NewVSpace: %v", err)
	}
	return k, vs
}

func TestLoadCodeTwoSegments(t *testing.T) {
	segA := make([]byte, 0x100)
	for i := range segA {
		segA[i] = byte(i)
	}
	segB := make([]byte, 0x50)
	for i := range segB {
		segB[i] = byte(0x80 + i)
	}
	image := buildELF(t, 0x10000, []testSegment{
		{vaddr: 0x10000, flags: progFlagRead | progFlagExec, content: segA, memsz: 0x1000},
		{vaddr: 0x11000, flags: progFlagRead | progFlagWrite, content: segB, memsz: 0x50},
	})

	fs := kernfs.NewMemFS()
	fs.Create("/bin/prog", image)
	_, vs := newTestVSpace(t)

	entry, size, err := LoadCode(vs, fs, "/bin/prog")
	if err != nil {
		t.Fatalf("LoadCode: %v", err)
	}
	if entry != 0x10000 {
		t.Errorf("entry: got %#x, want 0x10000", entry)
	}
	if size != 0x50 {
		t.Errorf("size: got %#x, want final segment's requested 0x50", size)
	}

	code := vs.Region(vspace.RegionCode)
	if code.Base != 0x10000 {
		t.Errorf("code base: got %#x, want 0x10000", uint64(code.Base))
	}
	if code.Size != 0x1050 {
		t.Errorf("code size: got %#x, want 0x1050", code.Size)
	}

	// Heap: one guard page past the page-rounded code end, empty.
	heap := vs.Region(vspace.RegionHeap)
	if heap.Base != 0x13000 {
		t.Errorf("heap base: got %#x, want 0x13000", uint64(heap.Base))
	}
	if heap.Size != 0 {
		t.Errorf("heap size: got %#x, want 0", heap.Size)
	}

	// Contents: segment bytes in place, zero fill past filesz.
	words := vs.CodeWords()
	if len(words) != 2*hostarch.PageSize/hostarch.WordSize {
		t.Fatalf("CodeWords: got %d words, want two pages' worth", len(words))
	}
	if got, want := words[0].Value, binary.LittleEndian.Uint64(segA[:8]); got != want {
		t.Errorf("segment A start: got %#x, want %#x", got, want)
	}
	if got := words[0x100/hostarch.WordSize].Value; got != 0 {
		t.Errorf("segment A zero-fill tail: got %#x, want 0", got)
	}
	segBWord := words[hostarch.PageSize/hostarch.WordSize].Value
	if want := binary.LittleEndian.Uint64(segB[:8]); segBWord != want {
		t.Errorf("segment B start: got %#x, want %#x", segBWord, want)
	}

	// Permissions: segment A read-only, segment B writable.
	if err := vs.WriteToVA(0x10000, []byte{1}); !errors.Is(err, vspace.ErrReadOnly) {
		t.Errorf("write to segment A: got %v, want ErrReadOnly", err)
	}
	if err := vs.WriteToVA(0x11000, []byte{1}); err != nil {
		t.Errorf("write to segment B: %v", err)
	}
}

func TestLoadCodeNoProgram(t *testing.T) {
	fs := kernfs.NewMemFS()
	_, vs := newTestVSpace(t)
	if _, _, err := LoadCode(vs, fs, "/bin/missing"); !errors.Is(err, ErrNoProgram) {
		t.Errorf("LoadCode: got %v, want ErrNoProgram", err)
	}
}

func TestLoadCodeCorruptImages(t *testing.T) {
	good := buildELF(t, 0x10000, []testSegment{
		{vaddr: 0x10000, flags: progFlagRead, content: []byte{1, 2, 3}, memsz: 0x10},
	})

	mutate := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	for _, test := range []struct {
		name  string
		image []byte
	}{
		{"truncated header", good[:32]},
		{"bad magic", mutate(func(b []byte) []byte {
			b[0] = 'X'
			return b
		})},
		{"truncated program headers", good[:fileHeaderSize+10]},
		{"memsz below filesz", mutate(func(b []byte) []byte {
			// Memsz field of the first program header.
			binary.LittleEndian.PutUint64(b[fileHeaderSize+40:], 1)
			return b
		})},
		{"vaddr+memsz wraps", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[fileHeaderSize+16:], ^uint64(0)-0x100) // vaddr
			binary.LittleEndian.PutUint64(b[fileHeaderSize+40:], 0x1000)           // memsz
			return b
		})},
		{"memsz exceeds signed range", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[fileHeaderSize+40:], 1<<63)
			return b
		})},
		{"no loadable segments", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[fileHeaderSize:], 0) // PT_NULL
			return b
		})},
	} {
		t.Run(test.name, func(t *testing.T) {
			fs := kernfs.NewMemFS()
			fs.Create("/bin/prog", test.image)
			_, vs := newTestVSpace(t)
			if _, _, err := LoadCode(vs, fs, "/bin/prog"); !errors.Is(err, ErrBadELF) {
				t.Errorf("LoadCode: got %v, want ErrBadELF", err)
			}
		})
	}
}

func TestLoadCodeUnalignedVaddr(t *testing.T) {
	image := buildELF(t, 0x10010, []testSegment{
		{vaddr: 0x10010, flags: progFlagRead, content: []byte{1}, memsz: 0x10},
	})
	fs := kernfs.NewMemFS()
	fs.Create("/bin/prog", image)
	_, vs := newTestVSpace(t)
	if _, _, err := LoadCode(vs, fs, "/bin/prog"); !errors.Is(err, ErrBadELF) {
		t.Errorf("LoadCode: got %v, want ErrBadELF", err)
	}
}

func TestLoadCodeShortSegment(t *testing.T) {
	image := buildELF(t, 0x10000, []testSegment{
		{vaddr: 0x10000, flags: progFlagRead, content: make([]byte, 0x200), memsz: 0x200},
	})
	// Drop the tail of the segment contents.
	image = image[:len(image)-0x100]
	fs := kernfs.NewMemFS()
	fs.Create("/bin/prog", image)
	_, vs := newTestVSpace(t)
	if _, _, err := LoadCode(vs, fs, "/bin/prog"); !errors.Is(err, vspace.ErrShortRead) {
		t.Errorf("LoadCode: got %v, want ErrShortRead", err)
	}
}
