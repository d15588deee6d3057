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

package hostctx

import (
	"testing"
	"time"

	"cascade.dev/cascade/pkg/arch"
)

func TestSwitchRoundTrip(t *testing.T) {
	o := New(1)
	boot := o.BootstrapContext("boot")
	var steps []string
	var worker, helper arch.Context

	helper = o.NewContext("helper", func() {
		steps = append(steps, "helper")
		o.SwitchTo(helper, boot)
		t.Error("helper resumed unexpectedly")
	})
	worker = o.NewContext("worker", func() {
		steps = append(steps, "worker")
		o.SwitchTo(worker, helper)
		t.Error("worker resumed unexpectedly")
	})

	steps = append(steps, "boot")
	o.SwitchTo(boot, worker)
	steps = append(steps, "back")

	want := []string{"boot", "worker", "helper", "back"}
	for i := range want {
		if i >= len(steps) || steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
	worker.Release()
	helper.Release()
}

func TestDeferredRunsOnTrampolineBeforeResume(t *testing.T) {
	o := New(1)
	boot := o.BootstrapContext("boot")
	var order []string
	var dying, tramp arch.Context

	tramp = o.NewContext("tramp", func() {
		order = append(order, "tramp")
		o.SwitchTo(tramp, boot)
		t.Error("trampoline resumed unexpectedly")
	})
	dying = o.NewContext("dying", func() {
		order = append(order, "dying")
		o.SwitchToIdleWithDeferred(dying, tramp, func() {
			order = append(order, "deferred")
		})
		t.Error("control returned to a context that was switched away from")
	})

	o.SwitchTo(boot, dying)
	want := []string{"dying", "deferred", "tramp"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	dying.Release()
	tramp.Release()
}

func TestTaskToTaskDeferredBypassesTrampolineResume(t *testing.T) {
	o := New(1)
	boot := o.BootstrapContext("boot")
	var order []string
	var dying, tramp, next arch.Context

	tramp = o.NewContext("tramp", func() {
		t.Error("trampoline entry ran; it should only lend its stack")
	})
	next = o.NewContext("next", func() {
		order = append(order, "next")
		o.SwitchTo(next, boot)
		t.Error("next resumed unexpectedly")
	})
	dying = o.NewContext("dying", func() {
		order = append(order, "dying")
		o.SwitchToTaskWithDeferred(dying, tramp, next, func() {
			order = append(order, "deferred")
		})
		t.Error("control returned to a context that was switched away from")
	})

	o.SwitchTo(boot, dying)
	want := []string{"dying", "deferred", "next"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	dying.Release()
	next.Release()
	tramp.Release()
}

func TestReleaseUnstartedIsNoOp(t *testing.T) {
	o := New(1)
	c := o.NewContext("never", func() {
		t.Error("entry ran on an unstarted context")
	})
	c.Release()
}

func TestHaltAndInterrupt(t *testing.T) {
	o := New(1)
	woke := make(chan struct{})
	go func() {
		o.Halt(0)
		close(woke)
	}()
	select {
	case <-woke:
		t.Fatal("Halt returned with no pending interrupt")
	case <-time.After(10 * time.Millisecond):
	}
	o.Interrupt(0)
	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Halt did not return after Interrupt")
	}

	// A pending interrupt makes the next Halt return immediately, and
	// repeated Interrupts collapse into one pending slot.
	o.Interrupt(0)
	o.Interrupt(0)
	o.Halt(0)
}

func TestInterruptMaskAndUserAccessBits(t *testing.T) {
	o := New(2)
	if o.InterruptsMasked(0) {
		t.Error("interrupts masked at start")
	}
	o.MaskInterrupts(0)
	if !o.InterruptsMasked(0) {
		t.Error("MaskInterrupts had no effect")
	}
	if o.InterruptsMasked(1) {
		t.Error("mask leaked to another executor")
	}
	o.UnmaskInterrupts(0)
	if o.InterruptsMasked(0) {
		t.Error("UnmaskInterrupts had no effect")
	}

	o.SetUserAccessEnabled(1, true)
	if !o.UserAccessEnabled(1) {
		t.Error("SetUserAccessEnabled had no effect")
	}
	if o.UserAccessEnabled(0) {
		t.Error("user access bit leaked to another executor")
	}
	o.SetUserAccessEnabled(1, false)
	if o.UserAccessEnabled(1) {
		t.Error("user access bit not cleared")
	}
}
