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

// Drop ends the calling task's execution permanently. The switch away goes
// through the scheduler task's stack; once the deferred action there marks
// the task dropped and releases its self-reference, nothing re-queues it,
// so Drop never returns. The task object itself lives on until its
// remaining references drain and the cleanup service destroys it.
//
// Preconditions: t is the caller's own current task; t holds the scheduler
// lock and no spinlocks.
func (t *Task) Drop() {
	k := t.k
	k.assertSchedulerLocked(t)
	if t.spinlocksHeld != 0 {
		panic(fmt.Sprintf("task %q (%p) dropping with %d spinlocks held", t.name, t, t.spinlocksHeld))
	}
	if t.env.Kind == EnvKernelScheduler {
		panic(fmt.Sprintf("scheduler task %q (%p) called Drop", t.name, t))
	}
	t.Debugf("task dropping")
	k.switchFromCurrent(t, func() {
		t.state = TaskDropped
		t.decRef()
	})
	panic(fmt.Sprintf("dropped task %q (%p) resumed", t.name, t))
}

// Block suspends the calling task until Unblock makes it runnable again.
// The switch away goes through the scheduler task's stack so that the
// blocked state is only published once the task's own stack is out of use;
// a wake racing with the block is recorded as pending and consumed here
// instead of being lost. Returns when the task is next scheduled, still
// holding the scheduler lock.
//
// Preconditions: t is the caller's own current task; t holds the scheduler
// lock and no spinlocks.
func (t *Task) Block() {
	k := t.k
	k.assertSchedulerLocked(t)
	if t.spinlocksHeld != 0 {
		panic(fmt.Sprintf("task %q (%p) blocking with %d spinlocks held", t.name, t, t.spinlocksHeld))
	}
	if t.env.Kind == EnvKernelScheduler {
		panic(fmt.Sprintf("scheduler task %q (%p) called Block", t.name, t))
	}
	k.switchFromCurrent(t, func() {
		if t.wakePending {
			t.wakePending = false
			t.state = TaskReady
			k.readyQueue.PushBack(t, listReady)
			return
		}
		t.state = TaskBlocked
	})
}

// Unblock makes a blocked task runnable, appending it to the ready queue.
// If t is still running its own block path, mid-switch, the wake is
// recorded as pending; t's block finalizer consumes it and re-queues
// immediately.
//
// Unblocking a ready or dropped task is a bug.
//
// Preconditions: ct holds the scheduler lock.
func (k *Kernel) Unblock(ct, t *Task) {
	k.assertSchedulerLocked(ct)
	switch t.state {
	case TaskBlocked:
		t.state = TaskReady
		k.readyQueue.PushBack(t, listReady)
	case TaskRunning:
		t.wakePending = true
	default:
		panic(fmt.Sprintf("unblocking task %q (%p) in state %v", t.name, t, t.state))
	}
}
