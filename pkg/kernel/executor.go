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
	"sync/atomic"
	"time"

	"cascade.dev/cascade/pkg/atomicbitops"
	"cascade.dev/cascade/pkg/log"
	"cascade.dev/cascade/pkg/memmap"
)

// flushBacklogLog reports flush queue backlogs without flooding the log
// when a storm of requests targets one executor.
var flushBacklogLog = log.BasicRateLimitedLogger(30 * time.Second)

// flushBacklogThreshold is the drain size above which a backlog is
// reported.
const flushBacklogThreshold = 64

// panicBufBytes is the size of an executor's preallocated panic message
// buffer. Panic formatting must not allocate; an executor that is dying
// cannot assume a working allocator.
const panicBufBytes = 512

// Executor is the kernel's representation of a single CPU core.
type Executor struct {
	// id is the executor's index in the kernel's executor table.
	// Immutable.
	id int32

	// kernel is the owning kernel. Immutable.
	kernel *Kernel

	// schedulerTask is this executor's permanently resident scheduler
	// task. Immutable after Init.
	schedulerTask *Task

	// currentTask is the task executing on this executor. Never nil;
	// an idle executor runs its scheduler task. Written only under the
	// scheduler lock by switch code.
	currentTask *Task

	// tickPending is set by OnPeriodic and consumed at the executor's
	// next interrupt delivery point.
	tickPending atomicbitops.Bool

	// flushHead is the head of the lock-free MPSC stack of pending
	// invalidation requests targeted at this executor.
	flushHead atomic.Pointer[FlushRequest]

	// panicBuf backs RenderPanic.
	panicBuf [panicBufBytes]byte
}

// ID returns the executor's ID.
func (e *Executor) ID() int32 {
	return e.id
}

// CurrentTask returns the task executing on this executor. The value is a
// racy snapshot unless the caller holds the scheduler lock or is the
// executor's current task with interrupts disabled.
func (e *Executor) CurrentTask() *Task {
	return e.currentTask
}

// SchedulerTask returns this executor's scheduler task.
func (e *Executor) SchedulerTask() *Task {
	return e.schedulerTask
}

// FlushRequest asks an executor to invalidate a range of an address space.
// Completion is observable through Completed; requests carry no payload
// back.
type FlushRequest struct {
	// Space is the address space the range belongs to.
	Space memmap.AddressSpace

	// Range is the address range to invalidate.
	Range memmap.AddrRange

	next atomic.Pointer[FlushRequest]
	done atomicbitops.Bool
}

// Completed returns true once the target executor has performed the
// invalidation.
func (r *FlushRequest) Completed() bool {
	return r.done.Load()
}

// RequestFlush queues an invalidation request on the target executor and
// kicks it. The request is consumed opportunistically: at the target's
// next context switch, idle-loop pass, or interrupt.
func (k *Kernel) RequestFlush(target int32, r *FlushRequest) {
	e := k.executors[target]
	for {
		head := e.flushHead.Load()
		r.next.Store(head)
		if e.flushHead.CompareAndSwap(head, r) {
			break
		}
	}
	k.archOps.Interrupt(target)
}

// drainFlushes completes all pending invalidation requests. Requests are
// pushed LIFO; the chain is reversed so completion order matches arrival
// order.
func (e *Executor) drainFlushes() {
	head := e.flushHead.Swap(nil)
	if head == nil {
		return
	}
	var rev *FlushRequest
	n := 0
	for r := head; r != nil; {
		next := r.next.Load()
		r.next.Store(rev)
		rev = r
		r = next
		n++
	}
	for r := rev; r != nil; {
		next := r.next.Load()
		r.next.Store(nil)
		r.done.Store(true)
		r = next
	}
	if n > flushBacklogThreshold {
		flushBacklogLog.Warningf("executor %d drained %d flush requests in one pass", e.id, n)
	}
}

// RenderPanic formats a panic message through the executor's preallocated
// buffer. Output beyond the buffer's capacity is truncated, never dropped
// wholesale; a partial panic message beats none.
func (e *Executor) RenderPanic(format string, v ...any) string {
	w := boundedWriter{buf: e.panicBuf[:0]}
	fmt.Fprintf(&w, format, v...)
	if w.truncated {
		const marker = "..."
		n := len(w.buf)
		if n+len(marker) > cap(w.buf) {
			n = cap(w.buf) - len(marker)
		}
		w.buf = append(w.buf[:n], marker...)
	}
	return string(w.buf)
}

// boundedWriter appends to a fixed-capacity slice, discarding overflow.
type boundedWriter struct {
	buf       []byte
	truncated bool
}

// Write implements io.Writer.Write.
func (w *boundedWriter) Write(p []byte) (int, error) {
	room := cap(w.buf) - len(w.buf)
	if room < len(p) {
		w.truncated = true
		p = p[:room]
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}
