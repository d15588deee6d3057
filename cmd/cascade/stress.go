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

package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/subcommands"

	"cascade.dev/cascade/pkg/atomicbitops"
	"cascade.dev/cascade/pkg/kernel"
)

// Stress implements subcommands.Command for the "stress" command. It churns
// task and process creation in waves to shake out lifecycle races: every
// wave creates short-lived tasks, lets them drop, and waits for cleanup to
// recycle them before the next wave.
type Stress struct {
	executors int
	tasks     int
	waves     int
	processes int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "churns task and process creation to exercise lifecycle paths"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - create and destroy tasks in waves
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.executors, "executors", 4, "number of executors to boot.")
	f.IntVar(&s.tasks, "tasks", 64, "kernel tasks per wave.")
	f.IntVar(&s.waves, "waves", 32, "number of creation waves.")
	f.IntVar(&s.processes, "processes", 4, "processes per wave, one task each.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if s.executors < 1 || s.executors > kernel.MaxExecutors {
		Fatalf("-executors must be in [1, %d]", kernel.MaxExecutors)
	}
	if s.tasks < 1 || s.waves < 1 || s.processes < 0 {
		Fatalf("-tasks and -waves must be positive, -processes non-negative")
	}

	h, init, err := boot(s.executors)
	if err != nil {
		Fatalf("%v", err)
	}
	k := h.k

	var done atomicbitops.Int64
	churn := func(t *kernel.Task, yields, _ uintptr) error {
		for i := uintptr(0); i < yields; i++ {
			yield(k, t)
		}
		done.Add(1)
		return nil
	}

	start := time.Now()
	created := 0
	for wave := 0; wave < s.waves; wave++ {
		done.Store(0)
		total := s.tasks + s.processes
		for i := 0; i < s.tasks; i++ {
			t, err := k.CreateKernelTask(init, "churn", churn, 4, 0)
			if err != nil {
				Fatalf("wave %d: creating task: %v", wave, err)
			}
			queue(k, init, t)
		}
		for i := 0; i < s.processes; i++ {
			p, t, err := k.CreateProcess(init, kernel.CreateProcessArgs{
				Name:        "churn",
				InitialTask: churn,
				Arg0:        4,
			})
			if err != nil {
				Fatalf("wave %d: creating process: %v", wave, err)
			}
			queue(k, init, t)
			p.DecRef(init)
		}
		created += total

		for done.Load() < int64(total) {
			yield(k, init)
		}
		for len(k.Tasks()) > 1 {
			yield(k, init)
		}
		k.WaitForCleanup()
	}

	elapsed := time.Since(start)
	init.Infof("%d waves, %d tasks total in %v (%.0f tasks/sec)",
		s.waves, created, elapsed, float64(created)/elapsed.Seconds())
	if n := len(k.Processes()); n != 0 {
		Fatalf("%d processes leaked", n)
	}
	h.shutdown(init)
	return subcommands.ExitSuccess
}
