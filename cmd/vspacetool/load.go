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
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"vspace.dev/vspace/pkg/cpu"
	"vspace.dev/vspace/pkg/hostarch"
	"vspace.dev/vspace/pkg/kernfs"
	"vspace.dev/vspace/pkg/loader"
	"vspace.dev/vspace/pkg/pgalloc"
	"vspace.dev/vspace/pkg/vspace"
)

// bootMachine brings up the simulated kernel and returns a file system
// holding the named host files, keyed by their host paths.
func bootMachine(conf *config, paths ...string) (*vspace.Kernel, *kernfs.MemFS, error) {
	k, err := vspace.Boot(pgalloc.NewMemory(conf.Frames))
	if err != nil {
		return nil, nil, err
	}
	fs := kernfs.NewMemFS()
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		fs.Create(path, data)
	}
	return k, fs, nil
}

// loadInto builds a fresh address space for the executable at path: code and
// heap from the ELF, a one-page stack, committed and ready to install.
func loadInto(k *vspace.Kernel, fs kernfs.FileSystem, path string) (*vspace.VSpace, uint64, error) {
	vs, err := k.NewVSpace()
	if err != nil {
		return nil, 0, err
	}
	entry, _, err := loader.LoadCode(vs, fs, path)
	if err != nil {
		vs.Free()
		return nil, 0, err
	}
	if err := vs.InitStack(hostarch.UserStackBase); err != nil {
		vs.Free()
		return nil, 0, err
	}
	if err := vs.Commit(); err != nil {
		vs.Free()
		return nil, 0, err
	}
	return vs, entry, nil
}

// teardown destroys an installed address space. The CPU is switched back to
// the kernel tree first; a tree must never be released while it is a CPU's
// active root.
func teardown(k *vspace.Kernel, c *cpu.CPU, vs *vspace.VSpace) {
	k.InstallKernel(c)
	vs.Free()
}

// loadCmd implements subcommands.Command for the "load" command.
type loadCmd struct {
	dumpCode  bool
	dumpStack bool
}

// Name implements subcommands.Command.Name.
func (*loadCmd) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*loadCmd) Synopsis() string {
	return "load an ELF executable into a fresh address space and install it"
}

// Usage implements subcommands.Command.Usage.
func (*loadCmd) Usage() string {
	return `load [flags] <elf file>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *loadCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.dumpCode, "dump-code", false, "log the code region's words after loading")
	f.BoolVar(&l.dumpStack, "dump-stack", true, "log the top of the stack after loading")
}

// Execute implements subcommands.Command.Execute.
func (l *loadCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
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
	vs, entry, err := loadInto(k, fs, path)
	if err != nil {
		logrus.Errorf("loading %q: %v", path, err)
		return subcommands.ExitFailure
	}

	c := &cpu.CPU{ID: 0}
	k.InstallKernel(c)
	vs.Install(c, conf.KernelStackTop)

	code := vs.Region(vspace.RegionCode)
	heap := vs.Region(vspace.RegionHeap)
	logrus.WithFields(logrus.Fields{
		"entry":     entry,
		"code_base": uint64(code.Base),
		"code_size": code.Size,
		"heap_base": uint64(heap.Base),
		"frames":    k.Mem.AllocatedFrames(),
	}).Info("address space installed")

	if l.dumpStack {
		vs.DumpStack()
	}
	if l.dumpCode {
		vs.DumpCode()
	}
	teardown(k, c, vs)
	return subcommands.ExitSuccess
}
