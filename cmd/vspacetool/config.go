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

package main

import "github.com/BurntSushi/toml"

// config describes the simulated machine.
type config struct {
	// Frames is the number of physical page frames in the machine.
	Frames int `toml:"frames"`

	// KernelStackTop is the privileged stack pointer handed to the CPU when
	// an address space is installed.
	KernelStackTop uint64 `toml:"kernel_stack_top"`

	// LogLevel selects the logrus level by name.
	LogLevel string `toml:"log_level"`
}

func defaultConfig() *config {
	return &config{
		Frames:         4096,
		KernelStackTop: 0xFFFF_FFFF_8800_0000,
		LogLevel:       "info",
	}
}

// loadConfig reads a machine config from a TOML file, filling unset fields
// with defaults.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	return c, nil
}
