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

// Package memmap defines the interfaces between the kernel core and the
// virtual memory manager. The memory manager's internals (page tables, frame
// allocation, the direct map) live behind these interfaces; the kernel core
// only ever asks for stacks, address spaces, and page table activation.
package memmap

import "errors"

// ErrNoMemory is returned when a stack or address space cannot be allocated.
// It is the only recoverable allocation failure; callers are expected to roll
// back partial state and propagate it.
var ErrNoMemory = errors.New("out of memory")

// AddrRange is a range of virtual addresses, [Lo, Hi).
type AddrRange struct {
	Lo uintptr
	Hi uintptr
}

// Size returns the length of the range.
func (r AddrRange) Size() uintptr {
	return r.Hi - r.Lo
}

// Contains returns true if addr lies within the range.
func (r AddrRange) Contains(addr uintptr) bool {
	return r.Lo <= addr && addr < r.Hi
}

// Stack is a kernel stack mapping. The usable range is Range; Guard is the
// unmapped guard page immediately below it, so that overflowing the stack
// faults instead of silently corrupting the adjacent mapping.
type Stack struct {
	// Range is the mapped, usable portion of the stack.
	Range AddrRange

	// Guard is the unmapped guard page below Range.
	Guard AddrRange
}

// Top returns the initial stack pointer, which is the high end of the usable
// range.
func (s Stack) Top() uintptr {
	return s.Range.Hi
}

// IsZero returns true if s has not been allocated.
func (s Stack) IsZero() bool {
	return s.Range == (AddrRange{}) && s.Guard == (AddrRange{})
}

// StackAllocator maps and unmaps kernel stacks.
type StackAllocator interface {
	// Allocate maps a fresh kernel stack, including its guard page, and
	// returns it. It returns ErrNoMemory if the backing frames cannot be
	// allocated.
	Allocate() (Stack, error)

	// Free unmaps the given stack and releases its backing frames. The
	// stack must have been returned by a previous call to Allocate and
	// must not be in use.
	Free(Stack)
}

// AddressSpace is the virtual address space a process executes in. The
// kernel's own mappings are visible in every address space.
type AddressSpace interface {
	// Activate loads the address space's root page table on the executor
	// with the given id. Only the scheduler's switch machinery calls
	// Activate.
	Activate(executorID int32)

	// Release unmaps all non-kernel mappings and releases the backing
	// frames and the page table itself. The address space must not be
	// active on any executor.
	Release()
}

// Provider creates address spaces.
type Provider interface {
	// NewAddressSpace returns a fresh address space whose top level is
	// copied from the kernel's top-level mappings. It returns ErrNoMemory
	// if the page table cannot be allocated.
	NewAddressSpace(name string) (AddressSpace, error)

	// KernelAddressSpace returns the kernel's own address space, which is
	// activated when switching to a kernel task. The returned value is
	// the same on every call and is never released.
	KernelAddressSpace() AddressSpace
}
