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

// Package pgalloc implements the physical page allocator over a simulated
// bank of page frames.
//
// The allocator is shared between all address spaces and may be called from
// multiple simulated CPUs concurrently, so it is internally locked. Failure
// to allocate is not an error at this layer: Allocate returns ErrExhausted
// and callers roll back or propagate.
package pgalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"vspace.dev/vspace/pkg/hostarch"
)

// Frame is the index of a physical page frame.
type Frame uint64

// NoFrame is the sentinel returned alongside ErrExhausted.
const NoFrame = ^Frame(0)

// Address returns the physical address of the first byte of the frame.
func (f Frame) Address() uint64 {
	return uint64(f) << hostarch.PageShift
}

// ErrExhausted is returned by Allocate when no free frames remain.
var ErrExhausted = errors.New("pgalloc: out of physical memory")

// Memory is a fixed-size bank of physical page frames with a free list.
//
// Frame contents are reachable through PageBytes; everything else about a
// frame (ownership, mapping state) is the caller's bookkeeping.
type Memory struct {
	mu        sync.Mutex
	arena     []byte
	free      []Frame
	allocated []bool
	total     int
}

// NewMemory returns a Memory with the given number of page frames, all free.
func NewMemory(frames int) *Memory {
	if frames <= 0 {
		panic(fmt.Sprintf("pgalloc.NewMemory: non-positive frame count %d", frames))
	}
	m := &Memory{
		arena:     make([]byte, frames*hostarch.PageSize),
		free:      make([]Frame, 0, frames),
		allocated: make([]bool, frames),
		total:     frames,
	}
	// Free list is popped from the tail, so push high frames first to hand
	// out low frames first.
	for f := frames - 1; f >= 0; f-- {
		m.free = append(m.free, Frame(f))
	}
	return m
}

// TotalFrames returns the size of the bank.
func (m *Memory) TotalFrames() int {
	return m.total
}

// AllocatedFrames returns the number of frames currently handed out.
func (m *Memory) AllocatedFrames() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total - len(m.free)
}

// Allocate hands out one zero-filled frame. It returns NoFrame and
// ErrExhausted when the bank is empty.
func (m *Memory) Allocate() (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.free) == 0 {
		logrus.WithField("frames", m.total).Warn("physical memory exhausted")
		return NoFrame, ErrExhausted
	}
	f := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.allocated[f] = true
	clear(m.pageBytesLocked(f))
	return f, nil
}

// Free returns a frame to the bank. Freeing a frame that is out of range or
// already free is a fatal bookkeeping error.
func (m *Memory) Free(f Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(f) >= uint64(m.total) {
		panic(fmt.Sprintf("pgalloc: Free of out-of-range frame %d", f))
	}
	if !m.allocated[f] {
		panic(fmt.Sprintf("pgalloc: double free of frame %d", f))
	}
	m.allocated[f] = false
	m.free = append(m.free, f)
}

// PageBytes returns the backing bytes of frame f. The slice aliases the
// frame's storage for its whole lifetime.
func (m *Memory) PageBytes(f Frame) []byte {
	if uint64(f) >= uint64(m.total) {
		panic(fmt.Sprintf("pgalloc: PageBytes of out-of-range frame %d", f))
	}
	return m.pageBytesLocked(f)
}

func (m *Memory) pageBytesLocked(f Frame) []byte {
	off := int(f) * hostarch.PageSize
	return m.arena[off : off+hostarch.PageSize : off+hostarch.PageSize]
}
