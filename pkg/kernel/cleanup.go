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
	"cascade.dev/cascade/pkg/log"
	"cascade.dev/cascade/pkg/sync"
)

// Deferred destruction. A reference count hitting zero can happen in
// contexts that must not run destructors: under the scheduler lock, on a
// borrowed scheduler stack, inside an interrupt frame. The decrementing
// flow only moves the dead object onto a cleanup queue; a dedicated
// service destroys it later, in a context where taking locks and freeing
// resources is safe.

// taskCleanupService destroys tasks whose reference count reached zero.
type taskCleanupService struct {
	k *Kernel

	// mu protects queue and pending, and backs cond.
	mu   sync.Mutex
	cond *sync.Cond

	// queue holds dead tasks awaiting destruction, linked through their
	// intrusive entry.
	queue taskList

	// pending counts tasks enqueued but not yet destroyed.
	pending int

	// wake nudges the worker; stop and done bound its lifetime.
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newTaskCleanupService(k *Kernel) *taskCleanupService {
	s := &taskCleanupService{
		k:    k,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// enqueue hands a dead task to the service. The queued-for-cleanup flag
// makes the handoff happen at most once per task life; a task already
// queued is left alone.
func (s *taskCleanupService) enqueue(t *Task) {
	if !t.queuedForCleanup.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.queue.PushBack(t, listCleanup)
	s.pending++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *taskCleanupService) start() {
	go s.run()
}

func (s *taskCleanupService) stopAndDrain() {
	close(s.stop)
	<-s.done
}

func (s *taskCleanupService) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *taskCleanupService) drain() {
	for {
		s.mu.Lock()
		t := s.queue.PopFront(listCleanup)
		s.mu.Unlock()
		if t == nil {
			return
		}
		t.destroy()
		s.mu.Lock()
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// waitIdle blocks until every task enqueued so far has been destroyed.
func (s *taskCleanupService) waitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
}

// processCleanupService destroys processes whose reference count reached
// zero. It mirrors the task service; the two are separate so that a task
// destruction releasing the last process reference enqueues onto a queue
// nobody is currently draining.
type processCleanupService struct {
	k *Kernel

	mu      sync.Mutex
	cond    *sync.Cond
	queue   processList
	pending int

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newProcessCleanupService(k *Kernel) *processCleanupService {
	s := &processCleanupService{
		k:    k,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *processCleanupService) enqueue(p *Process) {
	if !p.queuedForCleanup.CompareAndSwap(false, true) {
		return
	}
	log.Debugf("process %q queued for cleanup", p.name)
	s.mu.Lock()
	s.queue.PushBack(p)
	s.pending++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *processCleanupService) start() {
	go s.run()
}

func (s *processCleanupService) stopAndDrain() {
	close(s.stop)
	<-s.done
}

func (s *processCleanupService) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *processCleanupService) drain() {
	for {
		s.mu.Lock()
		p := s.queue.PopFront()
		s.mu.Unlock()
		if p == nil {
			return
		}
		p.destroy()
		s.mu.Lock()
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *processCleanupService) waitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
}
