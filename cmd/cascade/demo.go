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

// Demo implements subcommands.Command for the "demo" command.
type Demo struct {
	executors    int
	workers      int
	rounds       int
	processTasks int
}

// Name implements subcommands.Command.Name.
func (*Demo) Name() string {
	return "demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Demo) Synopsis() string {
	return "boots a kernel and runs a small workload of kernel and user tasks"
}

// Usage implements subcommands.Command.Usage.
func (*Demo) Usage() string {
	return `demo [flags] - boot a kernel, run tasks, shut down
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Demo) SetFlags(f *flag.FlagSet) {
	f.IntVar(&d.executors, "executors", 2, "number of executors to boot.")
	f.IntVar(&d.workers, "workers", 4, "number of kernel worker tasks.")
	f.IntVar(&d.rounds, "rounds", 100, "yields each worker performs.")
	f.IntVar(&d.processTasks, "process-tasks", 2, "tasks in the demo process.")
}

// Execute implements subcommands.Command.Execute.
func (d *Demo) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if d.executors < 1 || d.executors > kernel.MaxExecutors {
		Fatalf("-executors must be in [1, %d]", kernel.MaxExecutors)
	}
	if d.workers < 1 || d.rounds < 1 || d.processTasks < 1 {
		Fatalf("-workers, -rounds and -process-tasks must be positive")
	}

	h, init, err := boot(d.executors)
	if err != nil {
		Fatalf("%v", err)
	}
	k := h.k

	// All workers rendezvous on a start gate so none gets a head start,
	// then yield through the scheduler for the configured rounds.
	var gate kernel.WaitQueue
	var remaining atomicbitops.Int64
	worker := func(t *kernel.Task, rounds, _ uintptr) error {
		gate.Wait(t)
		for i := uintptr(0); i < rounds; i++ {
			k.LockScheduler(t)
			k.Yield(t)
			k.UnlockScheduler(t)
			t.PreemptCheckpoint()
		}
		remaining.Add(-1)
		return nil
	}

	start := time.Now()
	total := d.workers + d.processTasks
	remaining.Store(int64(total))

	for i := 0; i < d.workers; i++ {
		t, err := k.CreateKernelTask(init, "demo-worker", worker, uintptr(d.rounds), 0)
		if err != nil {
			Fatalf("creating worker: %v", err)
		}
		queue(k, init, t)
	}

	p, first, err := k.CreateProcess(init, kernel.CreateProcessArgs{
		Name:        "demo",
		InitialTask: worker,
		Arg0:        uintptr(d.rounds),
	})
	if err != nil {
		Fatalf("creating process: %v", err)
	}
	queue(k, init, first)
	for i := 1; i < d.processTasks; i++ {
		t, err := p.CreateTask(init, "", worker, uintptr(d.rounds), 0)
		if err != nil {
			Fatalf("creating process task: %v", err)
		}
		queue(k, init, t)
	}
	p.DecRef(init)

	// Open the gate. Workers that have not reached it yet are released on
	// a later pass; Wake reports how many it actually found.
	released := 0
	for released < total {
		released += gate.Wake(init, total-released)
		yield(k, init)
	}
	init.Infof("released %d tasks", released)

	for remaining.Load() > 0 {
		yield(k, init)
	}
	// Every worker has finished its rounds; wait for their exits to pass
	// through the registry so shutdown finds nothing live.
	for len(k.Tasks()) > 1 {
		yield(k, init)
	}
	k.WaitForCleanup()

	init.Infof("%d tasks, %d yields each, %d executors: %v",
		total, d.rounds, d.executors, time.Since(start))
	h.shutdown(init)
	return subcommands.ExitSuccess
}

func queue(k *kernel.Kernel, ct, t *kernel.Task) {
	k.LockScheduler(ct)
	k.QueueTask(ct, t)
	k.UnlockScheduler(ct)
}

func yield(k *kernel.Kernel, ct *kernel.Task) {
	k.LockScheduler(ct)
	k.Yield(ct)
	k.UnlockScheduler(ct)
}
