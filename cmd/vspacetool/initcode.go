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
	"vspace.dev/vspace/pkg/vspace"
)

// initCodeCmd implements subcommands.Command for the "initcode" command. It
// maps a raw machine-code image the way the kernel maps the first process,
// bypassing the ELF loader.
type initCodeCmd struct{}

// Name implements subcommands.Command.Name.
func (*initCodeCmd) Name() string {
	return "initcode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*initCodeCmd) Synopsis() string {
	return "map a raw code image as the first process's address space"
}

// Usage implements subcommands.Command.Usage.
func (*initCodeCmd) Usage() string {
	return `initcode <image file>`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*initCodeCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*initCodeCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config)
	path := f.Arg(0)

	image, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("reading %q: %v", path, err)
		return subcommands.ExitFailure
	}
	k, _, err := bootMachine(conf)
	if err != nil {
		logrus.Errorf("booting machine: %v", err)
		return subcommands.ExitFailure
	}
	vs, err := k.NewVSpace()
	if err != nil {
		logrus.Errorf("creating address space: %v", err)
		return subcommands.ExitFailure
	}
	vs.InitCode(image)

	c := &cpu.CPU{ID: 0}
	k.InstallKernel(c)
	vs.Install(c, conf.KernelStackTop)

	code := vs.Region(vspace.RegionCode)
	logrus.WithFields(logrus.Fields{
		"code_base": uint64(code.Base),
		"code_size": code.Size,
		"frames":    k.Mem.AllocatedFrames(),
	}).Info("first process mapped")
	vs.DumpCode()
	teardown(k, c, vs)
	return subcommands.ExitSuccess
}
