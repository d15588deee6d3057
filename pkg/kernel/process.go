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

	"cascade.dev/cascade/pkg/atomicbitops"
	"cascade.dev/cascade/pkg/memmap"
	"cascade.dev/cascade/pkg/sync"
)

// Process is a collection of user tasks sharing an address space.
type Process struct {
	// processEntry is the process's cleanup queue link.
	processEntry

	// k is the owning kernel. Immutable.
	k *Kernel

	// name identifies the process. Immutable after creation.
	name string

	// addressSpace is the process's address space. Immutable between
	// creation and destroy.
	addressSpace memmap.AddressSpace

	// refCount is the number of references held to the process: one per
	// live member task, plus one per external holder including the
	// creator. When it reaches zero the process is queued for cleanup.
	refCount atomicbitops.Int64

	// tasksMu protects tasks.
	tasksMu sync.RWMutex

	// tasks is the registry of the process's live member tasks. Every
	// entry is a user task whose environment names this process.
	tasks map[*Task]struct{}

	// nextTaskID feeds generated names for tasks created without one.
	nextTaskID atomicbitops.Int64

	// queuedForCleanup is set at most once, by whichever DecRef drops
	// the last reference.
	queuedForCleanup atomicbitops.Bool
}

// CreateProcessArgs are the arguments to CreateProcess.
type CreateProcessArgs struct {
	// Name identifies the process. Truncated to ProcessNameBytes.
	Name string

	// InitialTaskName names the process's first task. Empty means a
	// generated name.
	InitialTaskName string

	// InitialTask is the entry point of the process's first task.
	InitialTask TaskFunc

	// Arg0 and Arg1 are passed to InitialTask.
	Arg0 uintptr
	Arg1 uintptr
}

// CreateProcess creates a process with its own address space and its first
// user task. The task is created ready but not queued. On failure nothing
// is leaked: the address space is released and the process object returns
// to the cache.
//
// The returned process carries two references for its two holders: the
// caller and the initial task.
func (k *Kernel) CreateProcess(ct *Task, args CreateProcessArgs) (*Process, *Task, error) {
	if args.InitialTask == nil {
		return nil, nil, fmt.Errorf("process %q: nil initial task function", args.Name)
	}
	p := k.processCache.Allocate().(*Process)
	p.k = k
	p.name = truncateName(args.Name, ProcessNameBytes)
	p.refCount.Store(1)
	p.queuedForCleanup.Store(false)
	p.nextTaskID.Store(0)
	p.tasksMu.Lock()
	p.tasks = make(map[*Task]struct{})
	p.tasksMu.Unlock()

	as, err := k.mm.NewAddressSpace(p.name)
	if err != nil {
		k.processCache.Free(p)
		return nil, nil, fmt.Errorf("process %q: address space: %w", p.name, err)
	}
	p.addressSpace = as
	k.registerProcess(p)

	t, err := p.CreateTask(ct, args.InitialTaskName, args.InitialTask, args.Arg0, args.Arg1)
	if err != nil {
		k.unregisterProcess(p)
		p.addressSpace = nil
		as.Release()
		k.processCache.Free(p)
		return nil, nil, err
	}
	ct.Debugf("created process %q", p.name)
	return p, t, nil
}

// CreateTask creates a user task in the process. The task holds a
// reference to the process for its lifetime. An empty name gets a
// generated one. The task is created ready but not queued.
func (p *Process) CreateTask(ct *Task, name string, fn TaskFunc, arg0, arg1 uintptr) (*Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("process %q: nil task function", p.name)
	}
	if name == "" {
		name = fmt.Sprintf("%s/%d", p.name, p.nextTaskID.Add(1)-1)
	}
	p.IncRef()
	t, err := p.k.newTask(name, Environment{Kind: EnvUser, Process: p}, fn, arg0, arg1)
	if err != nil {
		// Releases the reference taken just above, not the caller's; the
		// self-release guard in DecRef does not apply to it.
		p.decRef()
		return nil, err
	}
	p.tasksMu.Lock()
	p.tasks[t] = struct{}{}
	p.tasksMu.Unlock()
	return t, nil
}

// removeTask removes a destroyed member task from the registry.
func (p *Process) removeTask(t *Task) {
	p.tasksMu.Lock()
	defer p.tasksMu.Unlock()
	if _, ok := p.tasks[t]; !ok {
		panic(fmt.Sprintf("task %q (%p) not in process %q", t.name, t, p.name))
	}
	delete(p.tasks, t)
}

// Name returns the process's name.
func (p *Process) Name() string {
	return p.name
}

// AddressSpace returns the process's address space.
func (p *Process) AddressSpace() memmap.AddressSpace {
	return p.addressSpace
}

// Tasks returns a snapshot of the process's live member tasks.
func (p *Process) Tasks() []*Task {
	p.tasksMu.RLock()
	defer p.tasksMu.RUnlock()
	ts := make([]*Task, 0, len(p.tasks))
	for t := range p.tasks {
		ts = append(ts, t)
	}
	return ts
}

// TaskCount returns the number of live member tasks.
func (p *Process) TaskCount() int {
	p.tasksMu.RLock()
	defer p.tasksMu.RUnlock()
	return len(p.tasks)
}

// ReadRefs returns the current reference count. Only useful for tests and
// diagnostics.
func (p *Process) ReadRefs() int64 {
	return p.refCount.Load()
}

// IncRef takes a reference to p.
//
// Preconditions: the caller already holds a reference.
func (p *Process) IncRef() {
	if v := p.refCount.Add(1); v <= 1 {
		panic(fmt.Sprintf("IncRef on process %q (%p) with no held references", p.name, p))
	}
}

// DecRef releases a reference to p. The reference that drops the count to
// zero hands the process to the cleanup service.
func (p *Process) DecRef(ct *Task) {
	if ct != nil && ct.env.Kind == EnvUser && ct.env.Process == p {
		panic(fmt.Sprintf("task %q (%p) released its own process %q", ct.name, ct, p.name))
	}
	p.decRef()
}

func (p *Process) decRef() {
	switch v := p.refCount.Add(-1); {
	case v < 0:
		panic(fmt.Sprintf("DecRef on process %q (%p) with no held references", p.name, p))
	case v == 0:
		p.k.processCleanup.enqueue(p)
	}
}

// destroy tears the process down and returns its object to the cache.
// Called only by the process cleanup service. The member task registry is
// necessarily empty: each member task held a reference.
func (p *Process) destroy() {
	if v := p.refCount.Load(); v != 0 {
		panic(fmt.Sprintf("destroying process %q (%p) with %d references", p.name, p, v))
	}
	if !p.queuedForCleanup.Load() {
		panic(fmt.Sprintf("destroying process %q (%p) not queued for cleanup", p.name, p))
	}
	if n := p.TaskCount(); n != 0 {
		panic(fmt.Sprintf("destroying process %q (%p) with %d live tasks", p.name, p, n))
	}
	k := p.k
	k.unregisterProcess(p)
	as := p.addressSpace
	p.addressSpace = nil
	as.Release()
	p.tasksMu.Lock()
	p.tasks = nil
	p.tasksMu.Unlock()
	k.processCache.Free(p)
}
