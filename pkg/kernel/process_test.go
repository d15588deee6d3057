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
	"strings"
	"testing"

	"cascade.dev/cascade/pkg/arch/hostctx"
	"cascade.dev/cascade/pkg/memmap/hostmm"
)

func nopTask(t *Task, _, _ uintptr) error { return nil }

func TestCreateProcessRefCounts(t *testing.T) {
	k, init := newTestKernel(t, 1)
	p, first, err := k.CreateProcess(init, CreateProcessArgs{
		Name:            "proc",
		InitialTaskName: "one",
		InitialTask:     nopTask,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if _, err := p.CreateTask(init, "two", nopTask, 0, 0); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.CreateTask(init, "three", nopTask, 0, 0); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// One reference per member task plus the creator's.
	if got := p.ReadRefs(); got != 4 {
		t.Errorf("process refs = %d, want 4", got)
	}
	if got := p.TaskCount(); got != 3 {
		t.Errorf("process has %d tasks, want 3", got)
	}
	for _, task := range p.Tasks() {
		env := task.Environment()
		if env.Kind != EnvUser || env.Process != p {
			t.Errorf("task %q has environment %v/%p, want user/%p", task.Name(), env.Kind, env.Process, p)
		}
	}
	if first.Environment().Process != p {
		t.Errorf("initial task does not belong to the process")
	}
}

func TestProcessDestroyReleasesAddressSpace(t *testing.T) {
	mem := hostmm.NewProvider(0)
	k, err := Init(InitArgs{
		Arch:          hostctx.New(1),
		Mem:           mem,
		Stacks:        hostmm.NewStackAllocator(0),
		ExecutorCount: 1,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	init := k.Start()

	p, task, err := k.CreateProcess(init, CreateProcessArgs{
		Name:        "ephemeral",
		InitialTask: nopTask,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if got := mem.Live(); got != 1 {
		t.Fatalf("live address spaces = %d, want 1", got)
	}
	if got := len(k.Processes()); got != 1 {
		t.Fatalf("process registry holds %d, want 1", got)
	}

	queue(k, init, task)
	runReady(k, init)
	// The task's reference goes with its destruction; the creator's is
	// the last one.
	k.WaitForCleanup()
	p.DecRef(init)
	k.WaitForCleanup()

	if got := mem.Live(); got != 0 {
		t.Errorf("live address spaces after destroy = %d, want 0", got)
	}
	if got := len(k.Processes()); got != 0 {
		t.Errorf("process registry holds %d after destroy, want 0", got)
	}
}

func TestProcessCreationRollback(t *testing.T) {
	// Address space limit 1: the kernel address space is separate, so the
	// first process fits and the second must roll back cleanly.
	mem := hostmm.NewProvider(1)
	k, err := Init(InitArgs{
		Arch:          hostctx.New(1),
		Mem:           mem,
		Stacks:        hostmm.NewStackAllocator(0),
		ExecutorCount: 1,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	init := k.Start()

	if _, _, err := k.CreateProcess(init, CreateProcessArgs{Name: "first", InitialTask: nopTask}); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	_, _, err = k.CreateProcess(init, CreateProcessArgs{Name: "second", InitialTask: nopTask})
	if err == nil {
		t.Fatal("CreateProcess succeeded past the address space limit")
	}
	if got := len(k.Processes()); got != 1 {
		t.Errorf("process registry holds %d after rollback, want 1", got)
	}
}

func TestProcessTaskCreationRollback(t *testing.T) {
	// Stacks: scheduler + init + one task. The second process's initial
	// task cannot get a stack; the process must not leak.
	mem := hostmm.NewProvider(0)
	k, err := Init(InitArgs{
		Arch:          hostctx.New(1),
		Mem:           mem,
		Stacks:        hostmm.NewStackAllocator(3),
		ExecutorCount: 1,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	init := k.Start()

	if _, _, err := k.CreateProcess(init, CreateProcessArgs{Name: "fits", InitialTask: nopTask}); err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	_, _, err = k.CreateProcess(init, CreateProcessArgs{Name: "starved", InitialTask: nopTask})
	if err == nil {
		t.Fatal("CreateProcess succeeded with no stacks left")
	}
	if got := len(k.Processes()); got != 1 {
		t.Errorf("process registry holds %d after rollback, want 1", got)
	}
	if got := mem.Live(); got != 1 {
		t.Errorf("live address spaces after rollback = %d, want 1", got)
	}
}

func TestGeneratedTaskNames(t *testing.T) {
	k, init := newTestKernel(t, 1)
	p, first, err := k.CreateProcess(init, CreateProcessArgs{
		Name:        "auto",
		InitialTask: nopTask,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	second, err := p.CreateTask(init, "", nopTask, 0, 0)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if first.Name() != "auto/0" {
		t.Errorf("first generated name = %q, want %q", first.Name(), "auto/0")
	}
	if second.Name() != "auto/1" {
		t.Errorf("second generated name = %q, want %q", second.Name(), "auto/1")
	}
}

func TestUserTaskAddressSpaceSwitch(t *testing.T) {
	mem := hostmm.NewProvider(0)
	arch := hostctx.New(1)
	k, err := Init(InitArgs{
		Arch:          arch,
		Mem:           mem,
		Stacks:        hostmm.NewStackAllocator(0),
		ExecutorCount: 1,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	init := k.Start()

	var sawUserAccess bool
	p, task, err := k.CreateProcess(init, CreateProcessArgs{
		Name: "mapped",
		InitialTask: func(t *Task, _, _ uintptr) error {
			t.EnableUserAccess()
			sawUserAccess = arch.UserAccessEnabled(0)
			t.EnableUserAccess()
			t.DisableUserAccess()
			if !arch.UserAccessEnabled(0) {
				return errFailed("user access dropped while nested")
			}
			t.DisableUserAccess()
			if arch.UserAccessEnabled(0) {
				return errFailed("user access still on after final disable")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	queue(k, init, task)
	runReady(k, init)
	if !sawUserAccess {
		t.Error("user access bit not set on 0 to 1 transition")
	}
	_ = p
}

// errFailed is a tiny error helper for task bodies.
type errFailed string

func (e errFailed) Error() string { return string(e) }

func TestProcessNameTruncation(t *testing.T) {
	k, init := newTestKernel(t, 1)
	p, _, err := k.CreateProcess(init, CreateProcessArgs{
		Name:        strings.Repeat("p", 3*ProcessNameBytes),
		InitialTask: nopTask,
	})
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if got := len(p.Name()); got != ProcessNameBytes {
		t.Errorf("process name length = %d, want %d", got, ProcessNameBytes)
	}
}
