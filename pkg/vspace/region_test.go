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
	"bytes"
	"errors"
	"testing"

	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/pgalloc"
)

func wantInvariantFault(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if _, ok := recover().(*InvariantError); !ok {
			t.Errorf("%s: expected invariant fault", name)
		}
	}()
	fn()
}

func TestVaToIndex(t *testing.T) {
	for _, test := range []struct {
		name string
		dir  Direction
		base hostarch.Addr
		va   hostarch.Addr
		want int
	}{
		{"up base", GrowsUp, 0x10000, 0x10000, 0},
		{"up interior", GrowsUp, 0x10000, 0x10fff, 0},
		{"up later page", GrowsUp, 0x10000, 0x13000, 3},
		{"down first page", GrowsDown, 0x80000, 0x7f000, 0},
		{"down top byte", GrowsDown, 0x80000, 0x7ffff, 0},
		{"down second page", GrowsDown, 0x80000, 0x7e000, 1},
	} {
		if got := test.dir.vaToIndex(test.base, test.va); got != test.want {
			t.Errorf("%s: vaToIndex(%#x, %#x) = %d, want %d", test.name, uint64(test.base), uint64(test.va), got, test.want)
		}
	}
}

func TestRegionContains(t *testing.T) {
	up := Region{Base: 0x10000, Size: 0x3000, Dir: GrowsUp}
	down := Region{Base: 0x80000, Size: 0x2000, Dir: GrowsDown}
	for _, test := range []struct {
		name string
		r    *Region
		va   hostarch.Addr
		size int64
		want bool
	}{
		{"up bottom point", &up, 0x10000, 0, true},
		{"up interior point", &up, 0x12fff, 0, true},
		{"up top point excluded", &up, 0x13000, 0, false},
		{"up below", &up, 0xffff, 0, false},
		{"up full range", &up, 0x10000, 0x3000, true},
		{"up range past top", &up, 0x10000, 0x3001, false},
		{"up range to top", &up, 0x12000, 0x1000, true},
		{"down bottom point", &down, 0x7e000, 0, true},
		{"down top point excluded", &down, 0x80000, 0, false},
		{"down interior range", &down, 0x7e000, 0x2000, true},
		{"down below bottom", &down, 0x7dfff, 0, false},
	} {
		if got := test.r.Contains(test.va, test.size); got != test.want {
			t.Errorf("%s: Contains(%#x, %#x) = %t, want %t", test.name, uint64(test.va), test.size, got, test.want)
		}
	}
}

func TestAddMapping(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}

	n, err := r.AddMapping(0x10000, 3*hostarch.PageSize, true, false)
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if n != 3*hostarch.PageSize {
		t.Errorf("AddMapping returned %#x, want requested size %#x", n, 3*hostarch.PageSize)
	}
	for va := hostarch.Addr(0x10000); va < 0x13000; va += hostarch.PageSize {
		vpi := r.peekPageInfo(va)
		if !vpi.Mapped || !vpi.Present || vpi.Writable {
			t.Errorf("page %#x: got %+v, want mapped, present, read-only", uint64(va), vpi)
		}
	}
	// No page outside the range is altered.
	if vpi := r.peekPageInfo(0x13000); vpi.Mapped {
		t.Errorf("page %#x altered outside the mapped range", 0x13000)
	}
}

func TestAddMappingRequestedSizeAsymmetry(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}

	// An unaligned start below the first page boundary is counted in the
	// return value but never backed.
	n, err := r.AddMapping(0x10100, 0xf00, true, true)
	if err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	if n != 0xf00 {
		t.Errorf("AddMapping returned %#x, want requested size 0xf00", n)
	}
	if vpi := r.peekPageInfo(0x10000); vpi.Mapped {
		t.Error("sub-page run below the first boundary was backed")
	}
}

func TestAddMappingNoOpAndBoundary(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}

	before := mem.AllocatedFrames()
	for _, size := range []int64{0, -1, -hostarch.PageSize} {
		n, err := r.AddMapping(0x10000, size, true, true)
		if err != nil || n != 0 {
			t.Errorf("AddMapping(size=%d): got (%d, %v), want (0, nil)", size, n, err)
		}
	}
	if got := mem.AllocatedFrames(); got != before {
		t.Errorf("no-op AddMapping allocated frames: %d -> %d", before, got)
	}

	for _, test := range []struct {
		name string
		from hostarch.Addr
		size int64
	}{
		{"end at split", hostarch.KernelBase - hostarch.PageSize, hostarch.PageSize},
		{"end past split", hostarch.KernelBase - hostarch.PageSize, 2 * hostarch.PageSize},
	} {
		if _, err := r.AddMapping(test.from, test.size, true, true); !errors.Is(err, ErrBadAddress) {
			t.Errorf("%s: got %v, want ErrBadAddress", test.name, err)
		}
	}
}

func TestAddMappingRollback(t *testing.T) {
	// One frame for the store chunk, two for the first call, one more for
	// the failing call's first page: the second page exhausts the bank.
	mem := pgalloc.NewMemory(4)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}

	if _, err := r.AddMapping(0x10000, 2*hostarch.PageSize, true, true); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	before := mem.AllocatedFrames()

	_, err := r.AddMapping(0x12000, 3*hostarch.PageSize, true, true)
	if !errors.Is(err, pgalloc.ErrExhausted) {
		t.Fatalf("AddMapping: got %v, want ErrExhausted", err)
	}
	if got := mem.AllocatedFrames(); got != before {
		t.Errorf("rollback leaked frames: %d -> %d", before, got)
	}
	// Every page the failing call touched is fully unmapped.
	for va := hostarch.Addr(0x12000); va < 0x15000; va += hostarch.PageSize {
		if vpi := r.peekPageInfo(va); vpi != (PageInfo{}) {
			t.Errorf("page %#x not rolled back: %+v", uint64(va), vpi)
		}
	}
	// Pages mapped by the earlier call are untouched.
	for va := hostarch.Addr(0x10000); va < 0x12000; va += hostarch.PageSize {
		if vpi := r.peekPageInfo(va); !vpi.Mapped {
			t.Errorf("page %#x from earlier call was disturbed", uint64(va))
		}
	}
}

func TestAddMappingDoubleMapFaults(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}
	if _, err := r.AddMapping(0x10000, hostarch.PageSize, true, true); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}
	wantInvariantFault(t, "double map", func() {
		r.AddMapping(0x10000, hostarch.PageSize, true, true)
	})
}

func TestLoadBytesAcrossPages(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}

	data := make([]byte, hostarch.PageSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	if err := r.LoadBytes(0x10000, data, true, true); err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	p0 := r.peekPageInfo(0x10000)
	p1 := r.peekPageInfo(0x11000)
	if !p0.Mapped || !p1.Mapped {
		t.Fatal("LoadBytes did not map both pages")
	}
	if !bytes.Equal(mem.PageBytes(p0.Frame), data[:hostarch.PageSize]) {
		t.Error("first page content mismatch")
	}
	if !bytes.Equal(mem.PageBytes(p1.Frame)[:100], data[hostarch.PageSize:]) {
		t.Error("second page content mismatch")
	}
	for _, b := range mem.PageBytes(p1.Frame)[100:] {
		if b != 0 {
			t.Error("tail of final page not zero-filled")
			break
		}
	}
}

func TestLoadFile(t *testing.T) {
	mem := pgalloc.NewMemory(32)
	r := Region{Base: 0x10000, Dir: GrowsUp, mem: mem}
	if _, err := r.AddMapping(0x10000, 2*hostarch.PageSize, true, true); err != nil {
		t.Fatalf("AddMapping: %v", err)
	}

	content := make([]byte, hostarch.PageSize+50)
	for i := range content {
		content[i] = byte(i * 3)
	}
	if err := r.LoadFile(0x10000, bytes.NewReader(content), 0, int64(len(content))); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	p0 := r.peekPageInfo(0x10000)
	if !bytes.Equal(mem.PageBytes(p0.Frame), content[:hostarch.PageSize]) {
		t.Error("LoadFile content mismatch")
	}

	// Asking for more bytes than the file has is a short read.
	err := r.LoadFile(0x10000, bytes.NewReader(content), 0, int64(len(content))+10)
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("LoadFile past EOF: got %v, want ErrShortRead", err)
	}

	wantInvariantFault(t, "unaligned LoadFile", func() {
		r.LoadFile(0x10001, bytes.NewReader(content), 0, 10)
	})
	wantInvariantFault(t, "LoadFile into unmapped page", func() {
		r.LoadFile(0x14000, bytes.NewReader(content), 0, 10)
	})
}

func TestPageInfoStoreGrowth(t *testing.T) {
	mem := pgalloc.NewMemory(8)
	r := Region{Base: 0, Dir: GrowsUp, mem: mem}

	// Touching a high index grows the chain one chunk at a time.
	far := hostarch.Addr(infosPerChunk+3) * hostarch.PageSize
	vpi, err := r.pageInfo(far)
	if err != nil {
		t.Fatalf("pageInfo: %v", err)
	}
	if vpi.Mapped {
		t.Error("fresh record not zeroed")
	}
	if got := mem.AllocatedFrames(); got != 2 {
		t.Errorf("store growth allocated %d frames, want 2 chunks", got)
	}
	// An absent chunk reads the same as a zeroed one.
	if got := r.peekPageInfo(hostarch.Addr(10*infosPerChunk) * hostarch.PageSize); got != (PageInfo{}) {
		t.Errorf("peek far past the chain: got %+v, want zero record", got)
	}
}
