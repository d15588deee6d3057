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

import "cascade.dev/cascade/pkg/sync"

// WaitQueue is a FIFO queue of blocked tasks, the building block for sleep
// and wake primitives in higher layers. Waiters are threaded through their
// task's intrusive link, so a waiting task occupies no extra memory.
//
// The zero value is an empty queue ready for use.
type WaitQueue struct {
	// mu is a spinlock guarding waiters. It nests inside the scheduler
	// lock: Wake holds both; Wait never holds both at once.
	mu sync.TicketMutex

	// waiters holds waiting tasks in arrival order.
	waiters taskList
}

// Wait blocks the calling task on the queue until a Wake releases it.
// Interrupts stay disabled from enqueue to the switch away, so no
// preemption can fire while the task is on the queue but still running.
//
// Preconditions: ct is the caller's own current task holding no spinlocks
// and not the scheduler lock.
func (q *WaitQueue) Wait(ct *Task) {
	k := ct.k

	ct.DisableInterrupts()
	q.mu.Lock()
	ct.acquiredSpinlock()
	q.waiters.PushBack(ct, listWait)
	ct.releasedSpinlock()
	q.mu.Unlock()

	// A Wake between here and the switch away finds the task still
	// running and leaves a pending wake; the block path consumes it.
	k.LockScheduler(ct)
	ct.Block()
	k.UnlockScheduler(ct)
	ct.EnableInterrupts()
}

// Wake releases up to n waiters in arrival order and returns the number
// released.
//
// Preconditions: ct holds no spinlocks and not the scheduler lock.
func (q *WaitQueue) Wake(ct *Task, n int) int {
	k := ct.k
	k.LockScheduler(ct)
	q.mu.Lock()
	ct.acquiredSpinlock()
	woken := 0
	for woken < n {
		t := q.waiters.PopFront(listWait)
		if t == nil {
			break
		}
		k.Unblock(ct, t)
		woken++
	}
	ct.releasedSpinlock()
	q.mu.Unlock()
	k.UnlockScheduler(ct)
	return woken
}
