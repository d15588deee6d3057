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

// CreateKernelTask creates a kernel task that will run fn(t, arg0, arg1)
// on its own kernel stack. The task is created ready but not queued; pass
// it to QueueTask to run it. The caller receives the task's self-reference
// plus an implicit handle; the task owns its own reference until it drops.
func (k *Kernel) CreateKernelTask(ct *Task, name string, fn TaskFunc, arg0, arg1 uintptr) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("kernel task %q: nil entry function", name)
	}
	t, err := k.newTask(name, kernelEnv(EnvKernel), fn, arg0, arg1)
	if err != nil {
		return nil, err
	}
	ct.Debugf("created kernel task %q", t.name)
	return t, nil
}

// newTask creates a ready, unqueued task with its own context and stack
// and registers it.
func (k *Kernel) newTask(name string, env Environment, fn TaskFunc, arg0, arg1 uintptr) (*Task, error) {
	t, err := k.allocTask(name, env)
	if err != nil {
		return nil, err
	}
	t.fn = fn
	t.arg0 = arg0
	t.arg1 = arg1
	t.archCtx = k.archOps.NewContext(t.name, func() { k.taskMain(t) })
	k.registerTask(t)
	return t, nil
}

// allocTask takes a task object from the cache and resets its lifecycle
// state. Cached objects come back with their kernel stack attached; only
// a fresh object allocates one.
//
// Fresh tasks are born inside the scheduler critical section: their first
// switch-in happens with the scheduler lock held and handed to them, so
// they start with the lock flag set and one interrupt-disable level. The
// trampoline performs the matching release.
func (k *Kernel) allocTask(name string, env Environment) (*Task, error) {
	t := k.taskCache.Allocate().(*Task)
	t.k = k
	t.name = truncateName(name, TaskNameBytes)
	t.env = env
	t.initRefs()
	t.state = TaskReady
	t.runningOn = -1
	t.interruptDisableCount = 1
	t.executor = nil
	t.schedulerLocked = true
	t.spinlocksHeld = 0
	t.userAccessCount = 0
	t.wakePending = false
	if t.stack.IsZero() {
		s, err := k.stacks.Allocate()
		if err != nil {
			k.taskCache.Free(t)
			return nil, fmt.Errorf("task %q: stack allocation: %w", t.name, err)
		}
		t.stack = s
	}
	return t, nil
}

// taskMain is the entry trampoline for every created task. Control arrives
// here on the task's first switch-in, holding the scheduler lock handed
// across that switch; the trampoline releases it, runs the task's entry
// function, and drops.
//
// A failing entry function is fatal: the kernel has nobody to report the
// error to.
func (k *Kernel) taskMain(t *Task) {
	k.UnlockScheduler(t)
	if err := t.fn(t, t.arg0, t.arg1); err != nil {
		t.DisableInterrupts()
		msg := t.executor.RenderPanic("task %q failed: %v", t.name, err)
		panic(msg)
	}
	k.LockScheduler(t)
	t.Drop()
}

// newSchedulerTask creates executor e's scheduler task. Scheduler tasks
// run the idle loop, are pinned to their executor for life, and are not
// registered: they are infrastructure, not workload.
func (k *Kernel) newSchedulerTask(e *Executor) (*Task, error) {
	t, err := k.allocTask(fmt.Sprintf("scheduler/%d", e.id), kernelEnv(EnvKernelScheduler))
	if err != nil {
		return nil, err
	}
	t.runningOn = e.id
	t.executor = e
	t.archCtx = k.archOps.NewContext(t.name, func() { k.idle(e) })
	return t, nil
}

// adoptInitTask wraps the calling goroutine, which is running on the boot
// stack, in a task object: the init task. Unlike created tasks it is
// already live, so it starts with no held locks and interrupts enabled.
func (k *Kernel) adoptInitTask() *Task {
	t, err := k.allocTask("init", kernelEnv(EnvKernelInit))
	if err != nil {
		panic(fmt.Sprintf("init task: %v", err))
	}
	t.interruptDisableCount = 0
	t.schedulerLocked = false
	t.state = TaskRunning
	t.runningOn = 0
	t.archCtx = k.archOps.BootstrapContext(t.name)
	k.executors[0].currentTask = t
	k.registerTask(t)
	return t
}

// bootExecutor starts e's idle loop. The idle loop expects to hold the
// scheduler lock whenever it has the CPU, so bring-up acquires it on the
// scheduler task's behalf and hands it across the one-sided first switch.
func (k *Kernel) bootExecutor(e *Executor) {
	st := e.schedulerTask
	k.schedMu.Lock()
	st.state = TaskRunning
	k.archOps.Start(st.archCtx)
}
