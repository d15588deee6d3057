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

package kernel

import (
	"fmt"

	"cascade.dev/cascade/pkg/arch"
	"cascade.dev/cascade/pkg/atomicbitops"
	"cascade.dev/cascade/pkg/memmap"
)

// TaskState is the scheduling state of a task.
type TaskState uint8

const (
	// TaskReady means the task is runnable and waiting on the ready queue,
	// or is a scheduler task whose executor is running something else.
	TaskReady TaskState = iota

	// TaskRunning means the task is executing on an executor.
	TaskRunning

	// TaskBlocked means the task is waiting for an external wake.
	TaskBlocked

	// TaskDropped means the task has ended execution and will never run
	// again. The task object lingers until its reference count drains.
	TaskDropped
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskBlocked:
		return "blocked"
	case TaskDropped:
		return "dropped"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// EnvironmentKind discriminates the kinds of environment a task runs in.
type EnvironmentKind uint8

const (
	// EnvKernel is an ordinary kernel task.
	EnvKernel EnvironmentKind = iota

	// EnvKernelInit is the bootstrap task that brings the system up. It
	// begins life already running, on the boot stack.
	EnvKernelInit

	// EnvKernelScheduler is a per-executor scheduler task. Scheduler
	// tasks run the idle loop and lend their stacks to deferred switch
	// actions. They are never queued, never dropped, and never counted.
	EnvKernelScheduler

	// EnvUser is a task belonging to a process.
	EnvUser
)

// String implements fmt.Stringer.String.
func (k EnvironmentKind) String() string {
	switch k {
	case EnvKernel:
		return "kernel"
	case EnvKernelInit:
		return "init"
	case EnvKernelScheduler:
		return "scheduler"
	case EnvUser:
		return "user"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Environment identifies what a task runs on behalf of. It is a tagged
// union: Process is non-nil iff Kind is EnvUser.
type Environment struct {
	Kind    EnvironmentKind
	Process *Process
}

// kernelEnv returns an Environment for a kernel task of the given kind.
func kernelEnv(kind EnvironmentKind) Environment {
	if kind == EnvUser {
		panic("kernelEnv called with EnvUser")
	}
	return Environment{Kind: kind}
}

// TaskFunc is a task entry point. It runs on the task's own kernel stack
// with interrupts enabled and no locks held. Returning a non-nil error is
// fatal to the kernel.
type TaskFunc func(t *Task, arg0, arg1 uintptr) error

// Task is a schedulable thread of control.
type Task struct {
	// taskEntry is the task's single intrusive queue link. A task is on
	// at most one of the ready queue, a wait queue, or the cleanup queue
	// at any time; taskEntry.purpose says which.
	taskEntry

	// k is the owning kernel. Immutable.
	k *Kernel

	// name identifies the task in logs. Immutable after creation.
	name string

	// env is the task's environment. Immutable after creation.
	env Environment

	// refCount is the number of references held to the task: one by the
	// task itself while it has not dropped, one by its process for user
	// tasks, and one per external holder. When it reaches zero the task
	// is queued for cleanup.
	refCount atomicbitops.Int64

	// state is the task's scheduling state. Protected by the scheduler
	// lock.
	state TaskState

	// runningOn is the ID of the executor the task is executing on. Only
	// meaningful while state is TaskRunning. Protected by the scheduler
	// lock.
	runningOn int32

	// stack is the task's kernel stack. It stays with the task object
	// across cache recycling; only uncached task allocations allocate a
	// stack.
	stack memmap.Stack

	// archCtx is the task's saved execution state. Owned by the task
	// while running; touched by switch code under the scheduler lock.
	archCtx arch.Context

	// fn, arg0 and arg1 are the task's entry point, consumed by the
	// first switch into the task.
	fn   TaskFunc
	arg0 uintptr
	arg1 uintptr

	// Execution context bookkeeping. These fields are owned by the task
	// itself: only code running as the task reads or writes them, so
	// they need no locking.

	// interruptDisableCount is the interrupt-disable nesting depth.
	// Interrupts are masked on the task's executor iff it is non-zero.
	// Fresh tasks start at 1; they are born inside the scheduler
	// critical section and their trampoline performs the matching
	// enable.
	interruptDisableCount uint32

	// executor is the executor the task is pinned to. Valid only while
	// interruptDisableCount > 0; a task that can be migrated has no
	// business caching its executor.
	executor *Executor

	// schedulerLocked is set while the task holds the scheduler lock,
	// including across a context switch until the gaining side releases
	// it.
	schedulerLocked bool

	// spinlocksHeld counts held spinlocks other than the scheduler lock.
	spinlocksHeld uint32

	// userAccessCount is the user-memory access nesting depth. The
	// executor's user-access bit is set iff it is non-zero.
	userAccessCount uint32

	// wakePending is set by Unblock when it races with the task's own
	// block path, before the task has finished switching away. Protected
	// by the scheduler lock.
	wakePending bool

	// queuedForCleanup is set at most once, by whichever DecRef drops the
	// last reference. It makes the cleanup handoff idempotent.
	queuedForCleanup atomicbitops.Bool
}

// Name returns the task's name.
func (t *Task) Name() string {
	return t.name
}

// Environment returns the task's environment.
func (t *Task) Environment() Environment {
	return t.env
}

// Kernel returns the owning kernel.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// State returns the task's scheduling state. The value is a racy snapshot
// unless the caller holds the scheduler lock.
func (t *Task) State() TaskState {
	return t.state
}

// IsSchedulerTask returns true if t is a per-executor scheduler task.
func (t *Task) IsSchedulerTask() bool {
	return t.env.Kind == EnvKernelScheduler
}

// initRefs resets the reference count to 1, the task's own reference.
func (t *Task) initRefs() {
	t.refCount.Store(1)
	t.queuedForCleanup.Store(false)
}

// ReadRefs returns the current reference count. Only useful for tests and
// diagnostics; the value may be stale as soon as it is read.
func (t *Task) ReadRefs() int64 {
	return t.refCount.Load()
}

// IncRef takes a reference to t.
//
// Preconditions: the caller already holds a reference, so the count is
// non-zero. Reviving a task whose count reached zero is a bug.
func (t *Task) IncRef() {
	if v := t.refCount.Add(1); v <= 1 {
		panic(fmt.Sprintf("IncRef on task %q (%p) with no held references", t.name, t))
	}
}

// DecRef releases a reference to t. The reference that drops the count to
// zero hands the task to the cleanup service; destruction is asynchronous.
//
// A task must not release its own self-reference this way; that happens
// inside Drop, off the task's stack.
func (t *Task) DecRef(ct *Task) {
	if t == ct {
		panic(fmt.Sprintf("task %q (%p) called DecRef on itself", t.name, t))
	}
	t.decRef()
}

func (t *Task) decRef() {
	switch v := t.refCount.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("DecRef on task %q (%p) with no held references", t.name, t))
	case v == 0:
		t.k.taskCleanup.enqueue(t)
	}
}

// destroy tears the task down and returns its object to the cache. Called
// only by the task cleanup service.
func (t *Task) destroy() {
	if v := t.refCount.Load(); v != 0 {
		panic(fmt.Sprintf("destroying task %q (%p) with %d references", t.name, t, v))
	}
	if !t.queuedForCleanup.Load() {
		panic(fmt.Sprintf("destroying task %q (%p) not queued for cleanup", t.name, t))
	}
	if t.state != TaskDropped {
		panic(fmt.Sprintf("destroying task %q (%p) in state %v", t.name, t, t.state))
	}
	if t.purpose != listNone {
		panic(fmt.Sprintf("destroying task %q (%p) still on %v queue", t.name, t, t.purpose))
	}
	t.Debugf("task destroyed")
	k := t.k
	k.unregisterTask(t)
	if t.env.Kind == EnvUser {
		p := t.env.Process
		p.removeTask(t)
		p.decRef()
	}
	if t.archCtx != nil {
		t.archCtx.Release()
		t.archCtx = nil
	}
	// The kernel stack stays with the object; the cache hands both back
	// on the next allocation.
	t.fn = nil
	t.arg0 = 0
	t.arg1 = 0
	t.env = Environment{}
	k.taskCache.Free(t)
}
