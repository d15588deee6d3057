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

// processEntry is the intrusive link embedded in Process. Processes queue
// in exactly one place, the process cleanup queue, so no purpose tag is
// needed; being linked at all means being queued for cleanup.
type processEntry struct {
	next *Process
	prev *Process
}

// processList is an intrusive FIFO of processes. The zero value is an
// empty list. Not thread-safe.
type processList struct {
	head *Process
	tail *Process
}

// Empty returns true iff the list is empty.
func (l *processList) Empty() bool {
	return l.head == nil
}

// PushBack appends p to the list.
func (l *processList) PushBack(p *Process) {
	p.prev = l.tail
	p.next = nil
	if l.tail != nil {
		l.tail.next = p
	} else {
		l.head = p
	}
	l.tail = p
}

// PopFront removes and returns the first process, or nil if empty.
func (l *processList) PopFront() *Process {
	p := l.head
	if p == nil {
		return nil
	}
	l.head = p.next
	if l.head != nil {
		l.head.prev = nil
	} else {
		l.tail = nil
	}
	p.next = nil
	p.prev = nil
	return p
}
