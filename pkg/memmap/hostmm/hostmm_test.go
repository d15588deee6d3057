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

package hostmm

import (
	"testing"

	"cascade.dev/cascade/pkg/memmap"
)

func TestStackAllocatorGuardsAndReuse(t *testing.T) {
	a := NewStackAllocator(0)
	s1, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s2, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if s1.Range == s2.Range {
		t.Fatal("two stacks share a range")
	}
	if s1.Guard.Hi != s1.Range.Lo {
		t.Errorf("guard %#x-%#x does not sit below stack %#x-%#x", s1.Guard.Lo, s1.Guard.Hi, s1.Range.Lo, s1.Range.Hi)
	}
	if s1.IsZero() {
		t.Error("allocated stack reads as zero")
	}
	if got := a.Live(); got != 2 {
		t.Errorf("Live = %d, want 2", got)
	}
	a.Free(s1)
	if got := a.Live(); got != 1 {
		t.Errorf("Live after free = %d, want 1", got)
	}
	a.Free(s2)
}

func TestStackAllocatorLimit(t *testing.T) {
	a := NewStackAllocator(1)
	s, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(); err != memmap.ErrNoMemory {
		t.Errorf("Allocate past limit = %v, want ErrNoMemory", err)
	}
	a.Free(s)
	if _, err := a.Allocate(); err != nil {
		t.Errorf("Allocate after free: %v", err)
	}
}

func TestFreeUnknownStackPanics(t *testing.T) {
	a := NewStackAllocator(0)
	defer func() {
		if recover() == nil {
			t.Error("Free of an unallocated stack did not panic")
		}
	}()
	a.Free(memmap.Stack{
		Range: memmap.AddrRange{Lo: 0xdead000, Hi: 0xdeae000},
	})
}

func TestAddressSpaceLifecycle(t *testing.T) {
	p := NewProvider(0)
	as, err := p.NewAddressSpace("proc")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	if got := p.Live(); got != 1 {
		t.Fatalf("Live = %d, want 1", got)
	}

	as.Activate(0)
	// Loading another space on the same executor implicitly deactivates
	// the first, making it releasable.
	p.KernelAddressSpace().Activate(0)
	as.Release()
	if got := p.Live(); got != 0 {
		t.Errorf("Live after release = %d, want 0", got)
	}
}

func TestReleaseWhileActivePanics(t *testing.T) {
	p := NewProvider(0)
	as, err := p.NewAddressSpace("pinned")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	as.Activate(0)
	defer func() {
		if recover() == nil {
			t.Error("Release of an active address space did not panic")
		}
	}()
	as.Release()
}

func TestReleaseKernelAddressSpacePanics(t *testing.T) {
	p := NewProvider(0)
	defer func() {
		if recover() == nil {
			t.Error("Release of the kernel address space did not panic")
		}
	}()
	p.KernelAddressSpace().Release()
}

func TestDoubleReleasePanics(t *testing.T) {
	p := NewProvider(0)
	as, err := p.NewAddressSpace("twice")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	as.Release()
	defer func() {
		if recover() == nil {
			t.Error("double Release did not panic")
		}
	}()
	as.Release()
}

func TestProviderLimit(t *testing.T) {
	p := NewProvider(1)
	as, err := p.NewAddressSpace("only")
	if err != nil {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	if _, err := p.NewAddressSpace("more"); err != memmap.ErrNoMemory {
		t.Errorf("NewAddressSpace past limit = %v, want ErrNoMemory", err)
	}
	as.Release()
	if _, err := p.NewAddressSpace("again"); err != nil {
		t.Errorf("NewAddressSpace after release: %v", err)
	}
}
