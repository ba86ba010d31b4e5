/*
 *
 * Copyright 2026 The shmipc authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package server

import (
	"errors"
	"os"
	"path/filepath"
)

// ErrAlreadyRunning is returned when the instance lock is held by a live
// process.
var ErrAlreadyRunning = errors.New("another server instance is already running")

// InstanceLock is an exclusive advisory lock held for the server's
// lifetime. The kernel releases it if the holder dies, so a crashed server
// never blocks the next one.
type InstanceLock struct {
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Closing the descriptor
// is what releases the flock; removal is cosmetic.
func (l *InstanceLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}

// DefaultLockPath returns the lock file location used when none is
// configured.
func DefaultLockPath() string {
	return filepath.Join(os.TempDir(), "shmipcd.lock")
}
