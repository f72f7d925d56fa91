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
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"vspace.dev/vspace/pkg/hostarch"
)

// Word is one machine word read out of an address space by the diagnostic
// dumps.
type Word struct {
	VA    hostarch.Addr
	Value uint64
}

// stackDumpWords is how many words DumpStack prints.
const stackDumpWords = 10

// StackWords reads up to max words from the top of the stack region,
// walking down from the base. It reads nothing if the region is empty and
// stops early at an unmapped page. Read-only.
func (vs *VSpace) StackWords(max int) []Word {
	r := vs.Region(RegionStack)
	if r.Size == 0 || max <= 0 {
		return nil
	}

	start := r.Base - hostarch.WordSize
	lowest := r.Bot()
	if limit := r.Base - hostarch.Addr(max)*hostarch.WordSize; limit > lowest {
		lowest = limit
	}

	var words []Word
	for va := start; va >= lowest; va -= hostarch.WordSize {
		vpi := r.peekPageInfo(va.RoundDown())
		if !vpi.Mapped {
			break
		}
		pb := vs.k.Mem.PageBytes(vpi.Frame)
		words = append(words, Word{
			VA:    va,
			Value: binary.LittleEndian.Uint64(pb[va.PageOffset():]),
		})
	}
	return words
}

// CodeWords reads every word of the code region from its base up to the
// first unmapped page. The walk is bounded by the mapped prefix, not by the
// region's recorded Size: mapped pages past the extent are still read.
// Read-only.
func (vs *VSpace) CodeWords() []Word {
	r := vs.Region(RegionCode)
	var words []Word
	for va := r.Base; ; va += hostarch.PageSize {
		vpi := r.peekPageInfo(va)
		if !vpi.Mapped {
			return words
		}
		pb := vs.k.Mem.PageBytes(vpi.Frame)
		for off := uint64(0); off < hostarch.PageSize; off += hostarch.WordSize {
			words = append(words, Word{
				VA:    va + hostarch.Addr(off),
				Value: binary.LittleEndian.Uint64(pb[off:]),
			})
		}
	}
}

// DumpStack logs the top words of the user stack.
func (vs *VSpace) DumpStack() {
	r := vs.Region(RegionStack)
	logrus.WithFields(logrus.Fields{
		"base": fmt.Sprintf("%#x", uint64(r.Base)),
		"size": r.Size,
	}).Info("dumping stack")
	for _, w := range vs.StackWords(stackDumpWords) {
		logrus.Infof("virtual address: %#x data: %#x", uint64(w.VA), w.Value)
	}
}

// DumpCode logs the whole mapped prefix of the code region.
func (vs *VSpace) DumpCode() {
	r := vs.Region(RegionCode)
	logrus.WithFields(logrus.Fields{
		"base": fmt.Sprintf("%#x", uint64(r.Base)),
		"size": r.Size,
	}).Info("dumping code")
	for _, w := range vs.CodeWords() {
		logrus.Infof("virtual address: %#x data: %#x", uint64(w.VA), w.Value)
	}
}
