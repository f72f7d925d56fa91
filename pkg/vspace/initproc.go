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

import "vspace.dev/vspace/pkg/hostarch"

// initAuxPages is the number of pages reserved right after the initial
// process's code for auxiliary data.
const initAuxPages = 5

// InitCode sets up the very first process from an in-memory image: the code
// region at the fixed low base with the image copied in and the auxiliary
// pages reserved after it, a one-page stack at the fixed high base, and the
// hardware tree synchronized immediately. Only the initial process is built
// this way; everything else goes through the binary loader.
//
// The initial image is boot-critical, so any failure here is fatal.
func (vs *VSpace) InitCode(image []byte) {
	code := vs.Region(RegionCode)
	roundedImage := hostarch.Addr(len(image)).MustRoundUp()

	code.Base = hostarch.InitCodeBase
	code.Size = uint64(roundedImage) + initAuxPages*hostarch.PageSize
	if err := code.LoadBytes(hostarch.InitCodeBase, image, true, true); err != nil {
		invariantf("InitCode: loading init image: %v", err)
	}
	if _, err := code.AddMapping(code.Base+roundedImage, initAuxPages*hostarch.PageSize, true, true); err != nil {
		invariantf("InitCode: reserving aux pages: %v", err)
	}

	if err := vs.InitStack(hostarch.UserStackBase); err != nil {
		invariantf("InitCode: creating stack: %v", err)
	}

	if err := vs.Commit(); err != nil {
		invariantf("InitCode: committing: %v", err)
	}
}

// InitStack creates the one-page user stack growing down from base.
func (vs *VSpace) InitStack(base hostarch.Addr) error {
	st := vs.Region(RegionStack)
	st.Base = base
	st.Size = hostarch.PageSize
	_, err := st.AddMapping(base-hostarch.PageSize, hostarch.PageSize, true, true)
	return err
}
