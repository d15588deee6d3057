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

import "fmt"

// Execution-context bookkeeping. All methods in this file must be called
// by the task itself, on its own executor; the fields they touch are owned
// by the task and need no locking.

// DisableInterrupts increments the interrupt-disable nesting depth. The
// transition from zero masks interrupts on the calling executor and pins
// the task to it; while the count is non-zero the task cannot migrate, so
// the executor pointer it caches stays valid.
func (t *Task) DisableInterrupts() {
	t.interruptDisableCount++
	if t.interruptDisableCount == 1 {
		e := t.k.executors[t.runningOn]
		t.k.archOps.MaskInterrupts(e.id)
		t.executor = e
	}
}

// EnableInterrupts decrements the interrupt-disable nesting depth. The
// transition to zero unmasks interrupts and drops the cached executor.
//
// Preconditions: the count is non-zero.
func (t *Task) EnableInterrupts() {
	if t.interruptDisableCount == 0 {
		panic(fmt.Sprintf("task %q (%p) enabling interrupts with zero disable count", t.name, t))
	}
	t.interruptDisableCount--
	if t.interruptDisableCount == 0 {
		e := t.executor
		t.executor = nil
		t.k.archOps.UnmaskInterrupts(e.id)
	}
}

// InterruptDisableCount returns the interrupt-disable nesting depth.
func (t *Task) InterruptDisableCount() uint32 {
	return t.interruptDisableCount
}

// Executor returns the executor the task is pinned to.
//
// Preconditions: interrupts are disabled; an unpinned task has no stable
// executor to return.
func (t *Task) Executor() *Executor {
	if t.interruptDisableCount == 0 {
		panic(fmt.Sprintf("task %q (%p) read its executor with interrupts enabled", t.name, t))
	}
	return t.executor
}

// EnableUserAccess increments the user-memory access nesting depth. The
// transition from zero sets the executor's user-access bit. Only user
// tasks touch user memory.
func (t *Task) EnableUserAccess() {
	if t.env.Kind != EnvUser {
		panic(fmt.Sprintf("kernel task %q (%p) enabling user memory access", t.name, t))
	}
	t.userAccessCount++
	if t.userAccessCount == 1 {
		t.k.archOps.SetUserAccessEnabled(t.runningOn, true)
	}
}

// DisableUserAccess decrements the user-memory access nesting depth. The
// transition to zero clears the executor's user-access bit.
//
// Preconditions: the count is non-zero.
func (t *Task) DisableUserAccess() {
	if t.userAccessCount == 0 {
		panic(fmt.Sprintf("task %q (%p) disabling user access with zero count", t.name, t))
	}
	t.userAccessCount--
	if t.userAccessCount == 0 {
		t.k.archOps.SetUserAccessEnabled(t.runningOn, false)
	}
}

// UserAccessCount returns the user-memory access nesting depth.
func (t *Task) UserAccessCount() uint32 {
	return t.userAccessCount
}

// acquiredSpinlock and releasedSpinlock track spinlocks other than the
// scheduler lock. Spinlock critical sections run with interrupts disabled.
func (t *Task) acquiredSpinlock() {
	t.spinlocksHeld++
}

func (t *Task) releasedSpinlock() {
	if t.spinlocksHeld == 0 {
		panic(fmt.Sprintf("task %q (%p) released a spinlock it does not hold", t.name, t))
	}
	t.spinlocksHeld--
}

// SpinlocksHeld returns the number of held spinlocks, not counting the
// scheduler lock.
func (t *Task) SpinlocksHeld() uint32 {
	return t.spinlocksHeld
}

// InterruptFrame is the execution-context state saved at interrupt entry
// and restored at exit.
type InterruptFrame struct {
	interruptDisableCount uint32
	userAccessCount       uint32
}

// EnterInterrupt snapshots the task's execution-context state and forces
// it to the interrupt-handler baseline: interrupts disabled once, user
// memory access off. Hardware masks interrupts on delivery; this records
// that fact in the nesting counter so handler code that takes spinlocks
// nests correctly.
func (t *Task) EnterInterrupt() InterruptFrame {
	f := InterruptFrame{
		interruptDisableCount: t.interruptDisableCount,
		userAccessCount:       t.userAccessCount,
	}
	e := t.k.executors[t.runningOn]
	t.interruptDisableCount = 1
	t.executor = e
	t.k.archOps.MaskInterrupts(e.id)
	if f.userAccessCount > 0 {
		t.userAccessCount = 0
		t.k.archOps.SetUserAccessEnabled(e.id, false)
	}
	return f
}

// ExitInterrupt restores the execution-context state saved by the matching
// EnterInterrupt. The task may have migrated while the handler preempted
// it, so the cached executor is recomputed rather than restored.
func (t *Task) ExitInterrupt(f InterruptFrame) {
	if t.interruptDisableCount != 1 {
		panic(fmt.Sprintf("task %q (%p) leaving interrupt with disable count %d", t.name, t, t.interruptDisableCount))
	}
	e := t.k.executors[t.runningOn]
	t.userAccessCount = f.userAccessCount
	if f.userAccessCount > 0 {
		t.k.archOps.SetUserAccessEnabled(e.id, true)
	}
	t.interruptDisableCount = f.interruptDisableCount
	if f.interruptDisableCount > 0 {
		t.executor = e
	} else {
		t.executor = nil
		t.k.archOps.UnmaskInterrupts(e.id)
	}
}

// PreemptCheckpoint is an interrupt delivery point. Hosted task bodies
// call it at loop boundaries; it stands in for the asynchronous arrival of
// the periodic interrupt. If a tick is pending on the task's executor and
// the task has interrupts enabled, the preemption check runs here inside a
// simulated interrupt frame.
func (t *Task) PreemptCheckpoint() {
	if t.interruptDisableCount > 0 {
		return
	}
	e := t.k.executors[t.runningOn]
	if !e.tickPending.Load() && e.flushHead.Load() == nil {
		return
	}
	f := t.EnterInterrupt()
	e.drainFlushes()
	if e.tickPending.CompareAndSwap(true, false) {
		t.k.MaybePreempt(t)
	}
	t.ExitInterrupt(f)
}
