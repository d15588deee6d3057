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

package slab

import "testing"

type widget struct {
	id int
}

func TestCacheConstructsWhenEmpty(t *testing.T) {
	built := 0
	c := NewCache("widget", func() any {
		built++
		return &widget{}
	})
	a := c.Allocate().(*widget)
	b := c.Allocate().(*widget)
	if a == b {
		t.Fatal("cache handed out the same object twice")
	}
	if built != 2 {
		t.Errorf("constructor ran %d times, want 2", built)
	}
	allocs, recycled := c.Stats()
	if allocs != 2 || recycled != 0 {
		t.Errorf("stats = (%d, %d), want (2, 0)", allocs, recycled)
	}
}

func TestCacheRecyclesLIFO(t *testing.T) {
	c := NewCache("widget", func() any { return &widget{} })
	a := c.Allocate().(*widget)
	b := c.Allocate().(*widget)
	c.Free(a)
	c.Free(b)

	// Most recently freed comes back first.
	if got := c.Allocate().(*widget); got != b {
		t.Errorf("first reallocation = %p, want %p", got, b)
	}
	if got := c.Allocate().(*widget); got != a {
		t.Errorf("second reallocation = %p, want %p", got, a)
	}
	allocs, recycled := c.Stats()
	if allocs != 4 || recycled != 2 {
		t.Errorf("stats = (%d, %d), want (4, 2)", allocs, recycled)
	}
}

func TestCacheName(t *testing.T) {
	c := NewCache("task", func() any { return &widget{} })
	if c.Name() != "task" {
		t.Errorf("Name = %q, want %q", c.Name(), "task")
	}
}
