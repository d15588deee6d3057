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

// Package hostctx implements arch.Ops on the host. Each context is backed by
// a goroutine; switching suspends one goroutine on a channel and hands
// control to another, so the scheduler's switch taxonomy maps onto strict
// channel handoffs. The goroutine for a context is not created until the
// context is first switched to, so contexts that are created and destroyed
// without ever running cost nothing.
package hostctx

import (
	"fmt"
	"runtime"

	"cascade.dev/cascade/pkg/arch"
	"cascade.dev/cascade/pkg/atomicbitops"
)

// A wakeup is delivered to a suspended context to make it do something on
// its own stack.
type wakeup struct {
	// fn, if non-nil, runs on the woken context's stack before resume is
	// considered. This is how a deferred action borrows the scheduler
	// context's stack.
	fn func()

	// resume, if true, resumes the context from its suspension point
	// after fn runs. If false the context stays suspended.
	resume bool

	// exit, if true, terminates the context's goroutine. Delivered only
	// by Release.
	exit bool
}

// context implements arch.Context.
type context struct {
	// name identifies the context in panics. name is immutable.
	name string

	// entry is the function run on first switch. entry is immutable.
	entry func()

	// wake is the unbuffered handoff channel the context's goroutine
	// suspends on.
	wake chan wakeup

	// started is true once a goroutine backs the context. Writes are
	// serialized by the scheduler lock; Release reads it after the
	// context's final suspension, ordered by the cleanup handoff.
	started atomicbitops.Bool
}

// Release implements arch.Context.Release. A started context has a
// goroutine parked on its wake channel; it is told to exit. An unstarted
// context has nothing to reclaim.
func (c *context) Release() {
	if !c.started.Load() {
		return
	}
	c.wake <- wakeup{exit: true}
}

// deliver hands w to the context, creating the backing goroutine on first
// use. deliver blocks until the context's goroutine accepts the wakeup.
func (c *context) deliver(w wakeup) {
	if !c.started.Load() {
		c.started.Store(true)
		go c.main()
	}
	c.wake <- w
}

// main is the body of the backing goroutine.
func (c *context) main() {
	c.suspend()
	c.entry()
	panic(fmt.Sprintf("context %q: entry returned", c.name))
}

// suspend parks the calling goroutine until a wakeup with resume set
// arrives, running any borrowed-stack functions that arrive in the
// meantime. An exit wakeup ends the goroutine here.
func (c *context) suspend() {
	for {
		w := <-c.wake
		if w.fn != nil {
			w.fn()
		}
		if w.exit {
			runtime.Goexit()
		}
		if w.resume {
			return
		}
	}
}

var _ arch.Ops = (*Ops)(nil)

// executorState is the per-executor interrupt and access-control state.
type executorState struct {
	// masked is the executor's interrupt mask.
	masked atomicbitops.Bool

	// userAccess is the executor's user-memory access-control bit.
	userAccess atomicbitops.Bool

	// pending is the executor's interrupt latch; Halt consumes it.
	pending chan struct{}
}

// Ops implements arch.Ops.
type Ops struct {
	executors []executorState
}

// New returns an Ops supporting numExecutors executors.
func New(numExecutors int) *Ops {
	o := &Ops{
		executors: make([]executorState, numExecutors),
	}
	for i := range o.executors {
		o.executors[i].pending = make(chan struct{}, 1)
	}
	return o
}

// ctx unwraps an arch.Context created by this package.
func ctx(c arch.Context) *context {
	hc, ok := c.(*context)
	if !ok {
		panic(fmt.Sprintf("foreign arch.Context %T", c))
	}
	return hc
}

// NewContext implements arch.Ops.NewContext.
func (o *Ops) NewContext(name string, entry func()) arch.Context {
	return &context{
		name:  name,
		entry: entry,
		wake:  make(chan wakeup),
	}
}

// BootstrapContext implements arch.Ops.BootstrapContext. The calling
// goroutine itself backs the context, so it is born started; it parks on
// the wake channel when switched away from.
func (o *Ops) BootstrapContext(name string) arch.Context {
	c := &context{
		name: name,
		wake: make(chan wakeup),
	}
	c.started.Store(true)
	return c
}

// Start implements arch.Ops.Start.
func (o *Ops) Start(c arch.Context) {
	ctx(c).deliver(wakeup{resume: true})
}

// SwitchTo implements arch.Ops.SwitchTo.
func (o *Ops) SwitchTo(old, new arch.Context) {
	oldc, newc := ctx(old), ctx(new)
	if oldc == newc {
		panic(fmt.Sprintf("SwitchTo: context %q switching to itself", oldc.name))
	}
	newc.deliver(wakeup{resume: true})
	oldc.suspend()
}

// SwitchToIdleWithDeferred implements arch.Ops.SwitchToIdleWithDeferred.
func (o *Ops) SwitchToIdleWithDeferred(old, tramp arch.Context, deferred func()) {
	ctx(tramp).deliver(wakeup{fn: deferred, resume: true})
	ctx(old).suspend()
}

// SwitchToTaskWithDeferred implements arch.Ops.SwitchToTaskWithDeferred.
func (o *Ops) SwitchToTaskWithDeferred(old, tramp, new arch.Context, deferred func()) {
	newc := ctx(new)
	ctx(tramp).deliver(wakeup{
		fn: func() {
			deferred()
			newc.deliver(wakeup{resume: true})
		},
	})
	ctx(old).suspend()
}

// MaskInterrupts implements arch.Ops.MaskInterrupts.
func (o *Ops) MaskInterrupts(executorID int32) {
	o.executors[executorID].masked.Store(true)
}

// UnmaskInterrupts implements arch.Ops.UnmaskInterrupts.
func (o *Ops) UnmaskInterrupts(executorID int32) {
	o.executors[executorID].masked.Store(false)
}

// InterruptsMasked implements arch.Ops.InterruptsMasked.
func (o *Ops) InterruptsMasked(executorID int32) bool {
	return o.executors[executorID].masked.Load()
}

// Halt implements arch.Ops.Halt.
func (o *Ops) Halt(executorID int32) {
	<-o.executors[executorID].pending
}

// Interrupt implements arch.Ops.Interrupt.
func (o *Ops) Interrupt(executorID int32) {
	select {
	case o.executors[executorID].pending <- struct{}{}:
	default:
	}
}

// SetUserAccessEnabled implements arch.Ops.SetUserAccessEnabled.
func (o *Ops) SetUserAccessEnabled(executorID int32, enabled bool) {
	o.executors[executorID].userAccess.Store(enabled)
}

// UserAccessEnabled implements arch.Ops.UserAccessEnabled.
func (o *Ops) UserAccessEnabled(executorID int32) bool {
	return o.executors[executorID].userAccess.Load()
}
