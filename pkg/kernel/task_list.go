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

// listPurpose records which queue a task's intrusive link is currently
// threaded on. A task has exactly one link, so it can be a member of at
// most one queue at a time; every enqueue and dequeue checks the purpose
// and panics on a violation rather than silently corrupting a list.
type listPurpose uint8

const (
	// listNone means the link is free.
	listNone listPurpose = iota

	// listReady means the task is on the global ready queue.
	listReady

	// listWait means the task is on a wait queue.
	listWait

	// listCleanup means the task is on the task cleanup queue.
	listCleanup
)

// String implements fmt.Stringer.String.
func (p listPurpose) String() string {
	switch p {
	case listNone:
		return "none"
	case listReady:
		return "ready"
	case listWait:
		return "wait"
	case listCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// taskEntry is an intrusive list link embedded in Task. It is protected by
// the lock of whichever queue the task is on, identified by purpose.
type taskEntry struct {
	next    *Task
	prev    *Task
	purpose listPurpose
}

// setPurpose marks the link as threaded on the queue identified by p.
//
// Preconditions: the link is free.
func (t *Task) setPurpose(p listPurpose) {
	if t.purpose != listNone {
		panic(fmt.Sprintf("task %q (%p) joining %v queue while on %v queue", t.name, t, p, t.purpose))
	}
	t.purpose = p
}

// clearPurpose marks the link as free.
//
// Preconditions: the link is threaded on the queue identified by p.
func (t *Task) clearPurpose(p listPurpose) {
	if t.purpose != p {
		panic(fmt.Sprintf("task %q (%p) leaving %v queue while on %v queue", t.name, t, p, t.purpose))
	}
	t.purpose = listNone
}

// taskList is an intrusive doubly-linked list of tasks. It stores no
// per-element allocations: links live inside the tasks themselves. The
// zero value is an empty list.
//
// A taskList is not thread-safe; callers hold the lock of the queue it
// implements.
type taskList struct {
	head *Task
	tail *Task
}

// Reset resets the list to the empty state.
func (l *taskList) Reset() {
	l.head = nil
	l.tail = nil
}

// Empty returns true iff the list is empty.
func (l *taskList) Empty() bool {
	return l.head == nil
}

// Front returns the first task in the list, or nil if empty.
func (l *taskList) Front() *Task {
	return l.head
}

// Back returns the last task in the list, or nil if empty.
func (l *taskList) Back() *Task {
	return l.tail
}

// Len walks the list and returns the number of tasks on it.
func (l *taskList) Len() (n int) {
	for t := l.head; t != nil; t = t.next {
		n++
	}
	return n
}

// PushBack appends t to the list, claiming t's link for purpose p.
func (l *taskList) PushBack(t *Task, p listPurpose) {
	t.setPurpose(p)
	t.prev = l.tail
	t.next = nil
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
}

// PopFront removes and returns the first task, releasing its link, or
// returns nil if the list is empty.
func (l *taskList) PopFront(p listPurpose) *Task {
	t := l.head
	if t == nil {
		return nil
	}
	l.Remove(t, p)
	return t
}

// Remove removes t from the list, releasing its link.
func (l *taskList) Remove(t *Task, p listPurpose) {
	t.clearPurpose(p)
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next = nil
	t.prev = nil
}
