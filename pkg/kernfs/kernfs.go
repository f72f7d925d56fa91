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

// Package kernfs defines the file/inode interface the binary loader reads
// executables through, plus MemFS, an in-memory implementation used by the
// simulator and tests.
package kernfs

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotFound is returned by Namei for a path with no inode.
var ErrNotFound = errors.New("kernfs: no such file")

// FileSystem resolves paths to inodes.
type FileSystem interface {
	// Namei returns the inode named by path, with one reference held by
	// the caller.
	Namei(path string) (Inode, error)
}

// Inode is a random-access file object. Readers take the inode lock for the
// duration of a multi-read operation such as a binary load.
type Inode interface {
	io.ReaderAt

	// Lock takes the inode lock for exclusive access.
	Lock()

	// Unlock releases the inode lock.
	Unlock()

	// Release drops the caller's reference.
	Release()
}

// MemFS is a FileSystem holding file contents in memory.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemFS returns an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string][]byte)}
}

// Create installs data under path, replacing any previous file.
func (fs *MemFS) Create(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[path] = append([]byte(nil), data...)
}

// Namei implements FileSystem.Namei.
func (fs *MemFS) Namei(path string) (Inode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &memInode{data: data}, nil
}

type memInode struct {
	mu   sync.Mutex
	data []byte
}

// ReadAt implements io.ReaderAt.
func (in *memInode) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("kernfs: negative offset %d", off)
	}
	if off >= int64(len(in.data)) {
		return 0, io.EOF
	}
	n := copy(p, in.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Lock implements Inode.Lock.
func (in *memInode) Lock() {
	in.mu.Lock()
}

// Unlock implements Inode.Unlock.
func (in *memInode) Unlock() {
	in.mu.Unlock()
}

// Release implements Inode.Release.
func (in *memInode) Release() {}
