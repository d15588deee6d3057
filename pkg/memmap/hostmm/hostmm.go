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

// Package hostmm provides the hosted implementation of the memmap
// interfaces. Stacks and address spaces are bookkeeping records rather than
// real mappings: hosted task contexts run on goroutine stacks, so the kernel
// only needs stable identities and accurate accounting. The accounting is
// strict, which lets tests observe leaks, double frees and use after
// release.
package hostmm

import (
	"fmt"

	"cascade.dev/cascade/pkg/memmap"
	"cascade.dev/cascade/pkg/sync"
)

// Stack layout constants for the fake address assignments. The values are
// arbitrary but stable, so stack ranges are recognizable in logs and panics.
const (
	stackSize  = 64 << 10
	guardSize  = 4 << 10
	stacksBase = 0xffff_8000_0000_0000
)

// StackAllocator implements memmap.StackAllocator. It hands out
// non-overlapping fake ranges above stacksBase and tracks outstanding
// allocations.
type StackAllocator struct {
	// mu protects the fields below.
	mu sync.Mutex

	// limit is the maximum number of simultaneously live stacks; 0 means
	// unlimited. Tests use limit to exercise allocation-failure paths.
	limit int

	// next is the index of the next stack slot to assign.
	next uintptr

	// live maps the low address of each outstanding stack to its Stack.
	live map[uintptr]memmap.Stack
}

// NewStackAllocator returns a StackAllocator allowing up to limit live
// stacks, or unlimited if limit is 0.
func NewStackAllocator(limit int) *StackAllocator {
	return &StackAllocator{
		limit: limit,
		live:  make(map[uintptr]memmap.Stack),
	}
}

// Allocate implements memmap.StackAllocator.Allocate.
func (a *StackAllocator) Allocate() (memmap.Stack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit != 0 && len(a.live) >= a.limit {
		return memmap.Stack{}, memmap.ErrNoMemory
	}
	lo := uintptr(stacksBase) + a.next*(stackSize+guardSize)
	a.next++
	s := memmap.Stack{
		Guard: memmap.AddrRange{Lo: lo, Hi: lo + guardSize},
		Range: memmap.AddrRange{Lo: lo + guardSize, Hi: lo + guardSize + stackSize},
	}
	a.live[s.Range.Lo] = s
	return s, nil
}

// Free implements memmap.StackAllocator.Free.
func (a *StackAllocator) Free(s memmap.Stack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[s.Range.Lo]; !ok {
		panic(fmt.Sprintf("Free of unallocated stack %#x-%#x", s.Range.Lo, s.Range.Hi))
	}
	delete(a.live, s.Range.Lo)
}

// Live returns the number of outstanding stacks.
func (a *StackAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// AddressSpace implements memmap.AddressSpace.
type AddressSpace struct {
	// name identifies the address space in logs. name is immutable.
	name string

	// provider is the Provider that created this address space. provider
	// is immutable.
	provider *Provider

	// kernel is true for the provider's kernel address space, which can
	// never be released. kernel is immutable.
	kernel bool

	// released is true once Release has been called. released is
	// protected by provider.mu.
	released bool
}

// Activate implements memmap.AddressSpace.Activate. Activating an address
// space implicitly deactivates whatever was previously active on the same
// executor, as loading a root page table does.
func (as *AddressSpace) Activate(executorID int32) {
	p := as.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if as.released {
		panic(fmt.Sprintf("Activate of released address space %q", as.name))
	}
	p.active[executorID] = as
}

// Release implements memmap.AddressSpace.Release.
func (as *AddressSpace) Release() {
	p := as.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	if as.kernel {
		panic("Release of the kernel address space")
	}
	if as.released {
		panic(fmt.Sprintf("double Release of address space %q", as.name))
	}
	for id, active := range p.active {
		if active == as {
			panic(fmt.Sprintf("Release of address space %q while active on executor %d", as.name, id))
		}
	}
	as.released = true
	p.releasedCount++
}

// Released returns true once Release has been called.
func (as *AddressSpace) Released() bool {
	as.provider.mu.Lock()
	defer as.provider.mu.Unlock()
	return as.released
}

// Provider implements memmap.Provider.
type Provider struct {
	// mu protects the fields below and the released flag of every address
	// space created by this provider.
	mu sync.Mutex

	// kernelAS is the shared kernel address space.
	kernelAS *AddressSpace

	// limit is the maximum number of simultaneously live user address
	// spaces; 0 means unlimited.
	limit int

	// active maps executor ids to the address space loaded on them.
	active map[int32]*AddressSpace

	// createdCount and releasedCount count lifecycle events of user
	// address spaces.
	createdCount  int
	releasedCount int
}

// NewProvider returns a Provider allowing up to limit live user address
// spaces, or unlimited if limit is 0.
func NewProvider(limit int) *Provider {
	p := &Provider{
		limit:  limit,
		active: make(map[int32]*AddressSpace),
	}
	p.kernelAS = &AddressSpace{
		name:     "kernel",
		provider: p,
		kernel:   true,
	}
	return p
}

// NewAddressSpace implements memmap.Provider.NewAddressSpace.
func (p *Provider) NewAddressSpace(name string) (memmap.AddressSpace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit != 0 && p.createdCount-p.releasedCount >= p.limit {
		return nil, memmap.ErrNoMemory
	}
	p.createdCount++
	return &AddressSpace{
		name:     name,
		provider: p,
	}, nil
}

// KernelAddressSpace implements memmap.Provider.KernelAddressSpace.
func (p *Provider) KernelAddressSpace() memmap.AddressSpace {
	return p.kernelAS
}

// Live returns the number of outstanding user address spaces.
func (p *Provider) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createdCount - p.releasedCount
}
