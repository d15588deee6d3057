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

	"cascade.dev/cascade/pkg/memmap"
)

// The scheduler. One global ready queue, FIFO, guarded by the scheduler
// lock. The lock is held across every context switch and released by the
// side that gains the CPU; a task parked inside a switch still has its
// schedulerLocked flag set, recording that the flow it belongs to holds
// the lock.
//
// Switches come in four shapes:
//
//  1. task to task: a running task yields to a ready task. Plain two-sided
//     switch; the old task's stack survives.
//  2. idle to task: an executor's scheduler task leaves the idle loop for
//     a ready task.
//  3. task to idle: a task blocks or drops with nothing ready. The switch
//     goes through the scheduler task, whose stack runs a deferred action
//     finalizing the old task after its stack is out of use.
//  4. task to task, deferred: a task blocks or drops with work ready. The
//     scheduler task's stack is borrowed as a trampoline for the deferred
//     action and stays suspended; the ready task gains the CPU.

// LockScheduler acquires the scheduler lock on behalf of ct. Acquisition
// disables interrupts first, pinning ct to its executor for the duration.
func (k *Kernel) LockScheduler(ct *Task) {
	ct.DisableInterrupts()
	k.schedMu.Lock()
	if ct.schedulerLocked {
		panic(fmt.Sprintf("task %q (%p) acquired the scheduler lock twice", ct.name, ct))
	}
	ct.schedulerLocked = true
}

// UnlockScheduler releases the scheduler lock held by ct.
func (k *Kernel) UnlockScheduler(ct *Task) {
	k.assertSchedulerLocked(ct)
	ct.schedulerLocked = false
	k.schedMu.Unlock()
	ct.EnableInterrupts()
}

// SchedulerLocked returns whether ct holds the scheduler lock.
func (k *Kernel) SchedulerLocked(ct *Task) bool {
	return ct.schedulerLocked
}

func (k *Kernel) assertSchedulerLocked(ct *Task) {
	if !ct.schedulerLocked {
		panic(fmt.Sprintf("task %q (%p) does not hold the scheduler lock", ct.name, ct))
	}
}

// QueueTask appends t to the ready queue. The task is not dispatched here;
// an executor picks it up when it next looks for work.
//
// Preconditions: ct holds the scheduler lock. t is ready and not queued
// anywhere. Scheduler tasks are never queued.
func (k *Kernel) QueueTask(ct, t *Task) {
	k.assertSchedulerLocked(ct)
	if t.env.Kind == EnvKernelScheduler {
		panic(fmt.Sprintf("scheduler task %q (%p) queued", t.name, t))
	}
	if t.state != TaskReady {
		panic(fmt.Sprintf("task %q (%p) queued in state %v", t.name, t, t.state))
	}
	k.readyQueue.PushBack(t, listReady)
}

// ReadyCount returns the length of the ready queue.
//
// Preconditions: ct holds the scheduler lock.
func (k *Kernel) ReadyCount(ct *Task) int {
	k.assertSchedulerLocked(ct)
	return k.readyQueue.Len()
}

// Yield gives up the CPU to the first ready task, if any, placing ct at
// the tail of the ready queue. It returns when ct is next scheduled, on
// whichever executor picked it up, still holding the scheduler lock.
//
// Preconditions: ct holds the scheduler lock and no spinlocks.
func (k *Kernel) Yield(ct *Task) {
	k.assertSchedulerLocked(ct)
	if ct.spinlocksHeld != 0 {
		panic(fmt.Sprintf("task %q (%p) yielding with %d spinlocks held", ct.name, ct, ct.spinlocksHeld))
	}
	if ct.env.Kind == EnvKernelScheduler {
		panic(fmt.Sprintf("scheduler task %q (%p) called Yield", ct.name, ct))
	}
	next := k.readyQueue.PopFront(listReady)
	if next == nil {
		return
	}
	e := ct.executor
	ct.state = TaskReady
	k.readyQueue.PushBack(ct, listReady)
	k.switchTo(e, ct, next)
}

// MaybePreempt checks whether ct should be preempted and if so yields.
// This is the periodic interrupt's entry into the scheduler.
//
// Preconditions: ct holds no spinlocks and not the scheduler lock.
func (k *Kernel) MaybePreempt(ct *Task) {
	if ct.schedulerLocked {
		panic(fmt.Sprintf("task %q (%p) entered preemption holding the scheduler lock", ct.name, ct))
	}
	if ct.spinlocksHeld != 0 {
		panic(fmt.Sprintf("task %q (%p) entered preemption holding %d spinlocks", ct.name, ct, ct.spinlocksHeld))
	}
	k.LockScheduler(ct)
	if k.shouldPreempt(ct) {
		k.Yield(ct)
	}
	k.UnlockScheduler(ct)
}

// shouldPreempt is the preemption policy: preempt whenever anything else
// is ready. Round-robin, no priorities yet.
//
// Preconditions: ct holds the scheduler lock.
func (k *Kernel) shouldPreempt(ct *Task) bool {
	return !k.readyQueue.Empty()
}

// switchTo performs a two-sided switch from old to new on executor e.
// Shapes 1 and 2 of the taxonomy. The caller has already recorded old's
// next state; old's stack survives and the call returns when old is next
// scheduled.
func (k *Kernel) switchTo(e *Executor, old, new *Task) {
	e.drainFlushes()
	k.prepareSwitch(e, old, new)
	k.archOps.SwitchTo(old.archCtx, new.archCtx)
}

// switchFromCurrent switches away from old without preserving a path back:
// old is blocking or dropping. finalize runs on the scheduler task's stack
// once old's stack is out of use, and must publish old's fate. Shapes 3
// and 4 of the taxonomy.
//
// For a blocking old the call returns when the task is unblocked and next
// scheduled. For a dropping old it never returns.
//
// Preconditions: old holds the scheduler lock and no spinlocks.
func (k *Kernel) switchFromCurrent(old *Task, finalize func()) {
	e := old.executor
	st := e.schedulerTask
	e.drainFlushes()
	if next := k.readyQueue.PopFront(listReady); next != nil {
		k.archOps.SwitchToTaskWithDeferred(old.archCtx, st.archCtx, next.archCtx, func() {
			k.prepareSwitch(e, old, next)
			finalize()
		})
		return
	}
	k.archOps.SwitchToIdleWithDeferred(old.archCtx, st.archCtx, func() {
		k.prepareSwitch(e, old, st)
		finalize()
	})
}

// prepareSwitch does the bookkeeping that installs new as e's current
// task: address space and user-access bit transitions, then the current
// task and state updates. Runs under the scheduler lock, on whichever
// stack is driving the switch.
func (k *Kernel) prepareSwitch(e *Executor, old, new *Task) {
	if !new.schedulerLocked {
		panic(fmt.Sprintf("task %q (%p) gaining the CPU without the scheduler lock", new.name, new))
	}
	oldUA := old.userAccessCount > 0
	newUA := new.userAccessCount > 0
	if oldUA != newUA {
		k.archOps.SetUserAccessEnabled(e.id, newUA)
	}
	// Same address space, including user task to user task within one
	// process, skips the reload.
	oldAS := k.addressSpaceOf(old)
	newAS := k.addressSpaceOf(new)
	if oldAS != newAS {
		newAS.Activate(e.id)
	}
	e.currentTask = new
	new.state = TaskRunning
	new.runningOn = e.id
	// The new task holds the scheduler lock, so its interrupt-disable
	// count is non-zero and its cached executor must be current.
	new.executor = e
}

func (k *Kernel) addressSpaceOf(t *Task) memmap.AddressSpace {
	if t.env.Kind == EnvUser {
		return t.env.Process.addressSpace
	}
	return k.mm.KernelAddressSpace()
}

// idle is the body of every scheduler task: dispatch ready work, otherwise
// halt until an interrupt. On entry, and on every resumption, the flow
// holds the scheduler lock.
func (k *Kernel) idle(e *Executor) {
	st := e.schedulerTask
	for {
		e.drainFlushes()
		if next := k.readyQueue.PopFront(listReady); next != nil {
			st.state = TaskReady
			k.switchTo(e, st, next)
			continue
		}
		k.UnlockScheduler(st)
		k.archOps.Halt(e.id)
		k.LockScheduler(st)
	}
}
