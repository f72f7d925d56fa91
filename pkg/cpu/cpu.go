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

// Package cpu models the per-CPU state the virtual-memory subsystem touches
// when installing an address space: the active table root, the privileged
// stack pointer and the interrupt-disable nesting used to make the two
// change atomically with respect to interrupts on the same CPU.
package cpu

import (
	"fmt"

	"vspace.dev/vspace/pkg/pgalloc"
)

// TaskState is the subset of the hardware task state the kernel maintains.
type TaskState struct {
	// RSP0 is the stack pointer loaded on a privilege-level switch.
	RSP0 uint64
}

// CPU is one simulated processor.
type CPU struct {
	// ID identifies the CPU; diagnostic only.
	ID int

	// TS is the CPU's task state.
	TS TaskState

	root     pgalloc.Frame
	hasRoot  bool
	cliDepth int
}

// PushCLI disables interrupts, counting nesting so that a matching number of
// PopCLI calls re-enables them.
func (c *CPU) PushCLI() {
	c.cliDepth++
}

// PopCLI undoes one PushCLI. Unbalanced calls are a fatal kernel bug.
func (c *CPU) PopCLI() {
	if c.cliDepth == 0 {
		panic(fmt.Sprintf("cpu%d: PopCLI without matching PushCLI", c.ID))
	}
	c.cliDepth--
}

// InterruptsDisabled reports whether the CPU is inside a PushCLI section.
func (c *CPU) InterruptsDisabled() bool {
	return c.cliDepth > 0
}

// SetActiveTable switches the CPU's table-root register, the equivalent of
// loading CR3. All subsequent translations on this CPU use the new tree.
func (c *CPU) SetActiveTable(root pgalloc.Frame) {
	c.root = root
	c.hasRoot = true
}

// ActiveTable returns the current table root. ok is false before the first
// SetActiveTable.
func (c *CPU) ActiveTable() (pgalloc.Frame, bool) {
	return c.root, c.hasRoot
}
