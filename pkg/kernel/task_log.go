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
)

// Infof logs an info message prefixed with the task's identity.
func (t *Task) Infof(format string, v ...any) {
	if log.IsLogging(log.Info) {
		log.Infof(t.logPrefix()+format, v...)
	}
}

// Warningf logs a warning message prefixed with the task's identity.
func (t *Task) Warningf(format string, v ...any) {
	if log.IsLogging(log.Warning) {
		log.Warningf(t.logPrefix()+format, v...)
	}
}

// Debugf logs a debug message prefixed with the task's identity.
func (t *Task) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Debugf(t.logPrefix()+format, v...)
	}
}

// IsLogging returns true iff this level is being logged.
func (t *Task) IsLogging(level log.Level) bool {
	return log.IsLogging(level)
}

func (t *Task) logPrefix() string {
	if t.env.Kind == EnvUser {
		return "[" + t.env.Process.name + "/" + t.name + "] "
	}
	return "[" + t.name + "] "
}
