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

// Package slab provides a fixed-size object cache. Kernel objects (tasks,
// processes) are allocated from a per-type Cache and returned to it on
// destruction, so object memory is recycled rather than handed back to the
// general allocator.
//
// Unlike sync.Pool, a Cache never discards free objects and recycles them in
// LIFO order, so a freed object is the first candidate for the next
// allocation. Object identity across a free/allocate pair is observable,
// which the kernel's lifecycle tests rely on.
package slab

import (
	"cascade.dev/cascade/pkg/sync"
)

// A Cache holds free objects of a single type.
type Cache struct {
	// mu protects free.
	mu sync.Mutex

	// name identifies the cache in logs and panics. name is immutable.
	name string

	// ctor constructs a fresh object when the free list is empty. ctor is
	// immutable.
	ctor func() any

	// free is the LIFO free list.
	free []any

	// allocs is the total number of Allocate calls. allocs is protected
	// by mu.
	allocs uint64

	// recycled is the number of Allocate calls satisfied from the free
	// list. recycled is protected by mu.
	recycled uint64
}

// NewCache returns an empty Cache that constructs objects with ctor.
func NewCache(name string, ctor func() any) *Cache {
	return &Cache{
		name: name,
		ctor: ctor,
	}
}

// Name returns the cache's name.
func (c *Cache) Name() string {
	return c.name
}

// Allocate returns an object from the cache, constructing a fresh one if the
// free list is empty. The object's previous contents are preserved; the
// caller is responsible for reinitialization.
func (c *Cache) Allocate() any {
	c.mu.Lock()
	c.allocs++
	if n := len(c.free); n > 0 {
		obj := c.free[n-1]
		c.free[n-1] = nil
		c.free = c.free[:n-1]
		c.recycled++
		c.mu.Unlock()
		return obj
	}
	c.mu.Unlock()
	return c.ctor()
}

// Free returns obj to the cache. obj must have been returned by a previous
// call to Allocate on this cache, and must not be used after Free.
func (c *Cache) Free(obj any) {
	c.mu.Lock()
	c.free = append(c.free, obj)
	c.mu.Unlock()
}

// Stats returns the total and recycled allocation counts.
func (c *Cache) Stats() (allocs, recycled uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocs, c.recycled
}
