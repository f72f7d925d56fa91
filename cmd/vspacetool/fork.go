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

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"vspace.dev/vspace/pkg/cpu"
)

// forkCmd implements subcommands.Command for the "fork" command. It loads an
// executable, duplicates the resulting address space and reports the frame
// accounting through the duplicate's teardown.
type forkCmd struct {
	copies int
}

// Name implements subcommands.Command.Name.
func (*forkCmd) Name() string {
	return "fork"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*forkCmd) Synopsis() string {
	return "load an executable, then duplicate and tear down its address space"
}

// Usage implements subcommands.Command.Usage.
func (*forkCmd) Usage() string {
	return `fork [flags] <elf file>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fc *forkCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&fc.copies, "copies", 1, "number of duplicates to make")
}

// Execute implements subcommands.Command.Execute.
func (fc *forkCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || fc.copies < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	path := f.Arg(0)

	k, fs, err := bootMachine(conf, path)
	if err != nil {
		logrus.Errorf("booting machine: %v", err)
		return subcommands.ExitFailure
	}
	parent, _, err := loadInto(k, fs, path)
	if err != nil {
		logrus.Errorf("loading %q: %v", path, err)
		return subcommands.ExitFailure
	}
	defer parent.Free()
	before := k.Mem.AllocatedFrames()

	c := &cpu.CPU{ID: 0}
	k.InstallKernel(c)

	for i := 0; i < fc.copies; i++ {
		child, err := k.NewVSpace()
		if err != nil {
			logrus.Errorf("fork %d: %v", i, err)
			return subcommands.ExitFailure
		}
		if err := child.CopyFrom(parent); err != nil {
			logrus.Errorf("fork %d: %v", i, err)
			child.Free()
			return subcommands.ExitFailure
		}
		child.Install(c, conf.KernelStackTop)
		logrus.WithFields(logrus.Fields{
			"fork":   i,
			"frames": k.Mem.AllocatedFrames(),
		}).Info("duplicated address space")
		teardown(k, c, child)
	}

	if got := k.Mem.AllocatedFrames(); got != before {
		logrus.Errorf("frame accounting: %d frames before forking, %d after", before, got)
		return subcommands.ExitFailure
	}
	logrus.WithFields(logrus.Fields{
		"copies": fc.copies,
		"frames": before,
	}).Info("all duplicates torn down cleanly")
	return subcommands.ExitSuccess
}
