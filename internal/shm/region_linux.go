//go:build linux

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
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

func init() {
	// Set platform-specific function implementations
	unmapMemory = munmapImpl
}

// CreateRegion creates a fresh shared region for the server. Any leftover
// file from an unclean exit is removed first, never reused: a new inode is
// what lets attached clients detect the replacement.
func CreateRegion(name string, capacity uint32, generation uint64) (*Region, error) {
	path := RegionPath(name)

	totalSize, err := RegionSize(capacity)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale region file %s: %w", path, err)
	}

	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create region file %s: %w", path, err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// Set the file size; truncation zero-fills, so every slot starts Free
	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize region file: %w", err)
	}

	// Memory map the file
	mem, err := mmapFile(file, int(totalSize), syscall.PROT_READ|syscall.PROT_WRITE)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap region: %w", err)
	}

	fi, err := file.Stat()
	if err != nil {
		munmapImpl(mem)
		cleanup()
		return nil, fmt.Errorf("failed to stat region file: %w", err)
	}

	region := &Region{
		File:    file,
		Mem:     mem,
		Path:    path,
		basePtr: unsafe.Pointer(&mem[0]),
		mapped:  fi,
	}

	// Initialize the session header
	h := region.Header()
	h.SetMagic(magicBytes())
	h.SetVersion(LayoutVersion)
	h.SetHeaderBytes(HeaderSize)
	h.SetGeneration(generation)
	h.SetCapacity(capacity)
	h.SetSlotBytes(SlotSize)
	h.SetServerPID(uint32(os.Getpid()))
	h.SetAccepting(true)

	return region, nil
}

// OpenRegion opens an existing shared region for a client.
func OpenRegion(name string) (*Region, error) {
	return openRegion(name, os.O_RDWR, syscall.PROT_READ|syscall.PROT_WRITE)
}

// OpenRegionReadOnly opens an existing shared region without write access,
// for inspection tools that must not alter state.
func OpenRegionReadOnly(name string) (*Region, error) {
	return openRegion(name, os.O_RDONLY, syscall.PROT_READ)
}

// openRegion maps an existing region file and validates its header.
func openRegion(name string, flag int, prot int) (*Region, error) {
	path := RegionPath(name)

	// Open the existing file
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file %s: %w", path, err)
	}

	// Get file info to determine size
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat region file: %w", err)
	}

	size := info.Size()
	if size < HeaderSize {
		file.Close()
		return nil, fmt.Errorf("region file too small: %d bytes", size)
	}

	// Memory map the file
	mem, err := mmapFile(file, int(size), prot)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap region: %w", err)
	}

	region := &Region{
		File:     file,
		Mem:      mem,
		Path:     path,
		basePtr:  unsafe.Pointer(&mem[0]),
		mapped:   info,
		readOnly: prot&syscall.PROT_WRITE == 0,
	}

	// Validate the header
	if err := ValidateHeader(region.Header(), uint64(size)); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("invalid session header: %w", err)
	}

	return region, nil
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int, prot int) ([]byte, error) {
	fd := int(file.Fd())

	data, err := syscall.Mmap(fd, 0, size, prot, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	err := syscall.Munmap(data)
	if err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}

	return nil
}
