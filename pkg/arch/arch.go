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

// Package arch defines the interface between the kernel core and the
// architecture layer: context switching, interrupt masking, and the
// user-memory access-control bit. The kernel consumes these as opaque
// primitives; their implementation (register save/restore, stack frames,
// interrupt controller programming) is entirely the implementation's
// business.
//
// Package hostctx provides the hosted implementation used by tests and the
// cascade binary, backing each context with a goroutine.
package arch

// Context is the architecture-level execution state of a single task: its
// stack frame layout and saved registers. A Context is created ready for its
// first switch, at which point it begins executing its entry function on its
// own stack. Context values are opaque to the kernel.
type Context interface {
	// Release discards any architecture resources held by a context that
	// will never run again. It must only be called on a context that is
	// either unstarted or suspended; releasing a running context is a
	// bug.
	Release()
}

// Ops is the set of architecture primitives the scheduler's switch machinery
// is built on. The switch operations correspond to the transitions of the
// scheduler's switch taxonomy.
//
// All switch operations require the caller to hold the scheduler lock; the
// lock is handed across the switch and released by whichever context resumes
// on the far side.
type Ops interface {
	// NewContext returns a fresh context that will invoke entry on its
	// own stack the first time it is switched to. entry must never
	// return; a task ends its life suspended in one of the deferred
	// switch primitives, and its context is then Released.
	NewContext(name string, entry func()) Context

	// BootstrapContext returns a context representing the caller's own
	// current execution state: the boot stack the system started on. It
	// is already live; switching to it resumes the caller.
	BootstrapContext(name string) Context

	// Start performs the one-sided first switch into a context, used once
	// per executor at bring-up. Unlike SwitchTo there is no old context
	// to suspend; the caller continues.
	Start(c Context)

	// SwitchTo suspends the calling context (old) and resumes new. It
	// returns when old is next resumed. Both stacks survive; this is the
	// primitive behind both task-to-task yields and leaving idle.
	SwitchTo(old, new Context)

	// SwitchToIdleWithDeferred suspends the calling context (old), runs
	// deferred on tramp's stack, and then resumes tramp from its last
	// suspension point. tramp is the executor's scheduler context.
	//
	// From the moment deferred starts running, old's stack is dead to
	// every flow but a later resumption of old: deferred publishes old's
	// fate (blocked or dropped), and a dropped old is never resumed, so
	// the call never returns for it. A blocked old returns from this
	// call when something switches back into it.
	SwitchToIdleWithDeferred(old, tramp Context, deferred func())

	// SwitchToTaskWithDeferred suspends the calling context (old), runs
	// deferred on tramp's stack as an intermediate trampoline, and then
	// resumes new. tramp itself remains suspended throughout. The same
	// stack-abandonment rules as SwitchToIdleWithDeferred apply to old.
	SwitchToTaskWithDeferred(old, tramp, new Context, deferred func())

	// MaskInterrupts masks external interrupts on the given executor.
	MaskInterrupts(executorID int32)

	// UnmaskInterrupts unmasks external interrupts on the given executor.
	UnmaskInterrupts(executorID int32)

	// InterruptsMasked returns whether interrupts are masked on the given
	// executor.
	InterruptsMasked(executorID int32) bool

	// Halt blocks the calling executor until the next interrupt. A
	// pending interrupt makes Halt return immediately.
	Halt(executorID int32)

	// Interrupt delivers an interrupt to the given executor, waking it
	// from Halt if it is halted.
	Interrupt(executorID int32)

	// SetUserAccessEnabled sets the executor's user-memory access-control
	// bit, permitting or forbidding kernel access to user mappings.
	SetUserAccessEnabled(executorID int32, enabled bool)

	// UserAccessEnabled returns the executor's user-memory access-control
	// bit.
	UserAccessEnabled(executorID int32) bool
}
