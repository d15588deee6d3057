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

package sync

import (
	"runtime"
	"sync/atomic"
)

// TicketMutex is a spinlock that grants the lock to contenders in the order
// in which they asked for it, giving FIFO acquisition fairness across
// executors. Unlike sync.Mutex, TicketMutex has no notion of an owning
// goroutine: it may be locked in one execution context and unlocked in
// another, which the scheduler relies on when the lock is handed across a
// context switch.
//
// A TicketMutex must not be copied after first use. The zero value is an
// unlocked mutex.
type TicketMutex struct {
	// next is the ticket handed to the next Lock caller.
	next uint32

	// serving is the ticket currently allowed to hold the lock.
	serving uint32
}

// spinsBeforeYield bounds busy spinning before the waiter yields the
// processor. The hosted kernel runs many contexts on few host CPUs, so
// unbounded spinning can starve the ticket holder.
const spinsBeforeYield = 64

// Lock acquires m. If the mutex is held, Lock spins until the caller's
// ticket comes up.
func (m *TicketMutex) Lock() {
	ticket := atomic.AddUint32(&m.next, 1) - 1
	for spins := 0; atomic.LoadUint32(&m.serving) != ticket; spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock attempts to acquire m without spinning. It returns true if the
// lock was acquired.
func (m *TicketMutex) TryLock() bool {
	serving := atomic.LoadUint32(&m.serving)
	return atomic.CompareAndSwapUint32(&m.next, serving, serving+1)
}

// Unlock releases m, admitting the next ticket holder.
//
// Unlock may be called from a different execution context than the matching
// Lock.
func (m *TicketMutex) Unlock() {
	atomic.AddUint32(&m.serving, 1)
}

// IsLocked returns true if m is currently held. The result is inherently
// racy and is only suitable for assertions.
func (m *TicketMutex) IsLocked() bool {
	return atomic.LoadUint32(&m.serving) != atomic.LoadUint32(&m.next)
}
