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

package shm

import (
	"os"
	"path/filepath"
	"unsafe"
)

// Platform-specific functions (implemented in platform-specific files)
var (
	// unmapMemory unmaps a memory-mapped region
	unmapMemory func([]byte) error
)

// Region is a mapped shared memory session: the session header followed by
// capacity slots. The server creates and destroys it; clients hold
// attach-only handles with no destruction rights.
type Region struct {
	File *os.File // File descriptor for the shared memory file
	Mem  []byte   // Memory-mapped region
	Path string   // File path

	basePtr  unsafe.Pointer // Base pointer to the memory region
	mapped   os.FileInfo    // Identity of the file at map time
	readOnly bool           // Mapped with PROT_READ only
}

// Header returns the typed view of the session header.
func (r *Region) Header() *SessionHeader {
	return (*SessionHeader)(r.basePtr)
}

// Slot returns the typed view of slot i. The caller keeps i below
// Capacity(); slot views perform no bounds checking.
func (r *Region) Slot(i uint32) *Slot {
	return (*Slot)(unsafe.Pointer(uintptr(r.basePtr) + HeaderSize + uintptr(i)*SlotSize))
}

// Capacity returns the slot count recorded in the header.
func (r *Region) Capacity() uint32 {
	return r.Header().Capacity()
}

// ReadOnly reports whether the region was mapped without write access.
func (r *Region) ReadOnly() bool {
	return r.readOnly
}

// SameFile reports whether the region path still names the file this
// handle has mapped. A replaced file means a different server incarnation
// created it; a stat error (including a missing file) is returned as-is.
func (r *Region) SameFile() (bool, error) {
	fi, err := os.Stat(r.Path)
	if err != nil {
		return false, err
	}
	return os.SameFile(r.mapped, fi), nil
}

// Close unmaps the memory and closes the file
func (r *Region) Close() error {
	var firstErr error

	// Unmap the memory
	if r.Mem != nil {
		if err := unmapMemory(r.Mem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.Mem = nil
		r.basePtr = nil
	}

	// Close the file
	if r.File != nil {
		if err := r.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.File = nil
	}

	return firstErr
}

// Unlink removes the region file. Existing mappings stay valid until each
// holder unmaps; only the server calls this, at clean shutdown.
func (r *Region) Unlink() error {
	return os.Remove(r.Path)
}

// Utility functions

// RegionPath generates the file path for a named region
func RegionPath(name string) string {
	// Prefer /dev/shm for shared memory on Linux
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", "shmipc_"+name)
	}

	// Fallback to temporary directory
	return filepath.Join(os.TempDir(), "shmipc_"+name)
}

// isDevShmAvailable checks if /dev/shm is available and writable
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveRegion removes a named region file
func RemoveRegion(name string) error {
	// Try both possible paths
	paths := []string{
		filepath.Join("/dev/shm", "shmipc_"+name),
		filepath.Join(os.TempDir(), "shmipc_"+name),
	}

	var lastErr error
	for _, path := range paths {
		if err := os.Remove(path); err == nil {
			return nil // Successfully removed
		} else if !os.IsNotExist(err) {
			lastErr = err // Keep track of non-NotExist errors
		}
	}

	// If we get here, the file wasn't found in either location
	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// RegionExists checks if a named region file exists
func RegionExists(name string) bool {
	paths := []string{
		filepath.Join("/dev/shm", "shmipc_"+name),
		filepath.Join(os.TempDir(), "shmipc_"+name),
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
