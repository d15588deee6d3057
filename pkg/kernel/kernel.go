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

// Package kernel provides the task and process model, the cooperative
// preemptive scheduler, and per-executor state for the cascade kernel.
//
// The package is organized around three object kinds:
//
//   - Task, a schedulable thread of control with its own kernel stack.
//   - Process, a collection of user tasks sharing an address space.
//   - Executor, the kernel's view of a single CPU core.
//
// All cross-executor scheduling state is guarded by a single ticket
// spinlock, the scheduler lock. The lock is deliberately handed across
// context switches: the switching task acquires it and the task (or idle
// loop) that gains the CPU releases it.
package kernel

import (
	"fmt"

	"cascade.dev/cascade/pkg/arch"
	"cascade.dev/cascade/pkg/atomicbitops"
	"cascade.dev/cascade/pkg/log"
	"cascade.dev/cascade/pkg/memmap"
	"cascade.dev/cascade/pkg/slab"
	"cascade.dev/cascade/pkg/sync"
)

// Kernel is the scheduling core. It owns the executor table, the global
// ready queue, the task and process registries, the object caches, and the
// cleanup services.
type Kernel struct {
	// archOps provides context switching and interrupt control. Immutable.
	archOps arch.Ops

	// mm provides address spaces. Immutable.
	mm memmap.Provider

	// stacks allocates kernel stacks. Immutable.
	stacks memmap.StackAllocator

	// executors is the executor table, indexed by executor ID. The slice
	// itself is immutable after Init; executor fields have their own
	// synchronization rules.
	executors []*Executor

	// schedMu is the scheduler lock. It guards the ready queue and the
	// scheduling fields of every task. It is acquired through
	// LockScheduler so that acquisition is always paired with an
	// interrupt-disable and tracked in the owning task's context;
	// executor bring-up, which locks on the idle loop's behalf, is the
	// one exception.
	schedMu sync.TicketMutex

	// readyQueue holds ready tasks in FIFO order. Protected by schedMu.
	readyQueue taskList

	// taskCache and processCache recycle Task and Process objects.
	taskCache    *slab.Cache
	processCache *slab.Cache

	// tasksMu protects tasks.
	tasksMu sync.RWMutex

	// tasks is the registry of all live kernel and user tasks, excluding
	// the per-executor scheduler tasks.
	tasks map[*Task]struct{}

	// processesMu protects processes.
	processesMu sync.RWMutex

	// processes is the registry of all live processes.
	processes map[*Process]struct{}

	// taskCleanup and processCleanup destroy objects whose reference
	// count reached zero.
	taskCleanup    *taskCleanupService
	processCleanup *processCleanupService

	// started is set once Start has run.
	started atomicbitops.Bool

	// stopping is set by Shutdown.
	stopping atomicbitops.Bool
}

// InitArgs are the arguments to Init.
type InitArgs struct {
	// Arch provides context switching and interrupt control for the
	// platform the kernel runs on.
	Arch arch.Ops

	// Mem provides address spaces.
	Mem memmap.Provider

	// Stacks allocates kernel stacks.
	Stacks memmap.StackAllocator

	// ExecutorCount is the number of executors to bring up. Must be in
	// [1, MaxExecutors].
	ExecutorCount int
}

// Init creates a Kernel and its executors. The executors are not running
// until Start is called.
func Init(args InitArgs) (*Kernel, error) {
	if args.Arch == nil || args.Mem == nil || args.Stacks == nil {
		return nil, fmt.Errorf("kernel.Init: missing platform hooks")
	}
	if args.ExecutorCount < 1 || args.ExecutorCount > MaxExecutors {
		return nil, fmt.Errorf("kernel.Init: executor count %d not in [1, %d]", args.ExecutorCount, MaxExecutors)
	}
	k := &Kernel{
		archOps:   args.Arch,
		mm:        args.Mem,
		stacks:    args.Stacks,
		tasks:     make(map[*Task]struct{}),
		processes: make(map[*Process]struct{}),
	}
	k.taskCache = slab.NewCache("task", func() any { return &Task{} })
	k.processCache = slab.NewCache("process", func() any { return &Process{} })
	k.taskCleanup = newTaskCleanupService(k)
	k.processCleanup = newProcessCleanupService(k)

	k.executors = make([]*Executor, args.ExecutorCount)
	for i := range k.executors {
		e := &Executor{id: int32(i), kernel: k}
		st, err := k.newSchedulerTask(e)
		if err != nil {
			return nil, fmt.Errorf("kernel.Init: executor %d: %w", i, err)
		}
		e.schedulerTask = st
		e.currentTask = st
		k.executors[i] = e
	}
	return k, nil
}

// Start brings the kernel up. The calling goroutine is adopted as the init
// task, running on executor 0; every other executor is started in its idle
// loop. The returned task is the caller's own and must be passed as the
// current task to subsequent kernel calls made from this goroutine.
func (k *Kernel) Start() *Task {
	if !k.started.CompareAndSwap(false, true) {
		panic("kernel.Start called twice")
	}
	k.taskCleanup.start()
	k.processCleanup.start()

	init := k.adoptInitTask()
	for _, e := range k.executors[1:] {
		k.bootExecutor(e)
	}
	log.Infof("kernel started with %d executors", len(k.executors))
	return init
}

// Shutdown drains and stops the cleanup services. Idle executors are kicked
// once; tasks still running keep running, a kernel has no teardown path for
// them.
func (k *Kernel) Shutdown(ct *Task) {
	ct.Infof("kernel shutting down")
	k.stopping.Store(true)
	k.taskCleanup.stopAndDrain()
	k.processCleanup.stopAndDrain()
	for _, e := range k.executors {
		k.archOps.Interrupt(e.id)
	}
}

// OnPeriodic is the per-executor periodic interrupt. The platform's timer
// calls it once per tick per executor. It records that a preemption check
// is due and kicks the executor out of Halt if it is idle; the check itself
// runs on the executor at its next interrupt delivery point.
func (k *Kernel) OnPeriodic(executorID int32) {
	e := k.executors[executorID]
	e.tickPending.Store(true)
	k.archOps.Interrupt(executorID)
}

// Executor returns the executor with the given ID.
func (k *Kernel) Executor(id int32) *Executor {
	return k.executors[id]
}

// ExecutorCount returns the number of executors.
func (k *Kernel) ExecutorCount() int {
	return len(k.executors)
}

// registerTask adds t to the global task registry.
func (k *Kernel) registerTask(t *Task) {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	if _, ok := k.tasks[t]; ok {
		panic(fmt.Sprintf("task %q (%p) already registered", t.name, t))
	}
	k.tasks[t] = struct{}{}
}

// unregisterTask removes t from the global task registry.
func (k *Kernel) unregisterTask(t *Task) {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	if _, ok := k.tasks[t]; !ok {
		panic(fmt.Sprintf("task %q (%p) not registered", t.name, t))
	}
	delete(k.tasks, t)
}

// Tasks returns a snapshot of all live tasks, excluding scheduler tasks.
func (k *Kernel) Tasks() []*Task {
	k.tasksMu.RLock()
	defer k.tasksMu.RUnlock()
	ts := make([]*Task, 0, len(k.tasks))
	for t := range k.tasks {
		ts = append(ts, t)
	}
	return ts
}

// registerProcess adds p to the process registry.
func (k *Kernel) registerProcess(p *Process) {
	k.processesMu.Lock()
	defer k.processesMu.Unlock()
	if _, ok := k.processes[p]; ok {
		panic(fmt.Sprintf("process %q (%p) already registered", p.name, p))
	}
	k.processes[p] = struct{}{}
}

// unregisterProcess removes p from the process registry.
func (k *Kernel) unregisterProcess(p *Process) {
	k.processesMu.Lock()
	defer k.processesMu.Unlock()
	if _, ok := k.processes[p]; !ok {
		panic(fmt.Sprintf("process %q (%p) not registered", p.name, p))
	}
	delete(k.processes, p)
}

// Processes returns a snapshot of all live processes.
func (k *Kernel) Processes() []*Process {
	k.processesMu.RLock()
	defer k.processesMu.RUnlock()
	ps := make([]*Process, 0, len(k.processes))
	for p := range k.processes {
		ps = append(ps, p)
	}
	return ps
}

// WaitForCleanup blocks until both cleanup services have destroyed every
// object enqueued before the call.
func (k *Kernel) WaitForCleanup() {
	k.taskCleanup.waitIdle()
	k.processCleanup.waitIdle()
}
