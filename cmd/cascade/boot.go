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

package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"cascade.dev/cascade/pkg/arch/hostctx"
	"cascade.dev/cascade/pkg/kernel"
	"cascade.dev/cascade/pkg/memmap/hostmm"
)

// host bundles a booted kernel with the host-side machinery that keeps it
// ticking: one goroutine per executor delivering the periodic interrupt.
type host struct {
	k *kernel.Kernel

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// boot creates a kernel on host contexts and starts its periodic timers.
// The calling goroutine becomes the init task.
func boot(executors int) (*host, *kernel.Task, error) {
	k, err := kernel.Init(kernel.InitArgs{
		Arch:          hostctx.New(executors),
		Mem:           hostmm.NewProvider(0),
		Stacks:        hostmm.NewStackAllocator(0),
		ExecutorCount: executors,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("booting kernel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	for id := int32(0); id < int32(executors); id++ {
		id := id
		eg.Go(func() error {
			tick := time.NewTicker(kernel.PeriodicInterval)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
					k.OnPeriodic(id)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	h := &host{k: k, cancel: cancel, eg: eg}
	return h, k.Start(), nil
}

// shutdown stops the timers and shuts the kernel down. Must be called from
// the init task's goroutine.
func (h *host) shutdown(ct *kernel.Task) {
	h.cancel()
	h.eg.Wait()
	h.k.Shutdown(ct)
}
