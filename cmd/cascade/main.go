// Copyright 2025 The Cascade Authors.
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

// Binary cascade hosts the kernel on top of the Go runtime and drives it
// from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"cascade.dev/cascade/pkg/log"
)

var (
	debug     = flag.Bool("debug", false, "enable debug logging.")
	logFormat = flag.String("log-format", "text", "log format: text or json.")
)

// Fatalf logs a message to stderr and exits. Unlike log.Warningf it is
// always visible, whatever the log target is set to.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

func newEmitter(format string, w *log.Writer) log.Emitter {
	switch format {
	case "text", "":
		return log.GoogleEmitter{Emitter: w}
	case "json":
		return log.JSONEmitter{Writer: w}
	}
	Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Demo), "")
	subcommands.Register(new(Stress), "")
	subcommands.Register(new(Version), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	log.SetTarget(newEmitter(*logFormat, &log.Writer{Next: os.Stderr}))
	if *debug {
		log.SetLevel(log.Debug)
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
