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

// Binary vspacetool drives the virtual-memory subsystem against a simulated
// machine: it boots a kernel, loads ELF executables into address spaces and
// inspects or duplicates the result.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	configFile = flag.String("config", "", "path to a TOML machine config")
	debug      = flag.Bool("debug", false, "enable debug logging, overriding the config's log level")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(loadCmd), "")
	subcommands.Register(new(forkCmd), "")
	subcommands.Register(new(initCodeCmd), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := defaultConfig()
	if *configFile != "" {
		var err error
		if conf, err = loadConfig(*configFile); err != nil {
			logrus.Fatalf("loading config %q: %v", *configFile, err)
		}
	}

	level, err := logrus.ParseLevel(conf.LogLevel)
	if err != nil {
		logrus.Fatalf("bad log level %q: %v", conf.LogLevel, err)
	}
	if *debug {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
