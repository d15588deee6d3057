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

import "time"

// Compile-time configuration. These are deliberately constants rather than
// runtime options: the sizes feed fixed allocations made once at boot.
const (
	// MaxExecutors is the maximum number of executors (CPU cores)
	// supported. The executor table is sized at boot and never grows.
	MaxExecutors = 64

	// KernelStackBytes is the usable size of a task's kernel stack, not
	// counting the guard page below it.
	KernelStackBytes = 64 << 10

	// TaskNameBytes is the maximum length of a task name. Longer names
	// are truncated.
	TaskNameBytes = 64

	// ProcessNameBytes is the maximum length of a process name. Longer
	// names are truncated.
	ProcessNameBytes = 64

	// PeriodicInterval is the suggested period for the per-executor
	// periodic interrupt that drives preemption. The timer itself belongs
	// to the platform layer; this is only the value the cascade binary
	// programs it with.
	PeriodicInterval = 10 * time.Millisecond
)

// truncateName bounds a name to max bytes.
func truncateName(name string, max int) string {
	if len(name) > max {
		return name[:max]
	}
	return name
}
