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

package cpu

import "testing"

func TestCLINesting(t *testing.T) {
	c := &CPU{}
	if c.InterruptsDisabled() {
		t.Error("fresh CPU has interrupts disabled")
	}
	c.PushCLI()
	c.PushCLI()
	c.PopCLI()
	if !c.InterruptsDisabled() {
		t.Error("interrupts re-enabled while still nested")
	}
	c.PopCLI()
	if c.InterruptsDisabled() {
		t.Error("interrupts still disabled after balanced PopCLI")
	}

	defer func() {
		if recover() == nil {
			t.Error("unbalanced PopCLI did not fault")
		}
	}()
	c.PopCLI()
}

func TestActiveTable(t *testing.T) {
	c := &CPU{}
	if _, ok := c.ActiveTable(); ok {
		t.Error("fresh CPU reports an active table")
	}
	c.SetActiveTable(7)
	if root, ok := c.ActiveTable(); !ok || root != 7 {
		t.Errorf("ActiveTable: got (%d, %t), want (7, true)", root, ok)
	}
}
