/*
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
 */

package shm

import (
	"os"
	"testing"
)

// TestCreateRegionInitializesHeader checks a fresh region carries a valid
// header and an all-Free slot table.
func TestCreateRegionInitializesHeader(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	region := createTestRegion(t, "create", 16, 42)
	h := region.Header()

	size, _ := RegionSize(16)
	if err := ValidateHeader(h, size); err != nil {
		t.Fatalf("fresh header does not validate: %v", err)
	}
	if h.Generation() != 42 {
		t.Errorf("generation = %d, want 42", h.Generation())
	}
	if h.Capacity() != 16 {
		t.Errorf("capacity = %d, want 16", h.Capacity())
	}
	if !h.Accepting() {
		t.Error("fresh region is not accepting")
	}
	if h.ServerPID() != uint32(os.Getpid()) {
		t.Errorf("serverPID = %d, want %d", h.ServerPID(), os.Getpid())
	}
	if got := h.MintRequestID(); got != 1 {
		t.Errorf("first minted request id = %d, want 1", got)
	}

	for i := uint32(0); i < 16; i++ {
		if state := region.Slot(i).State(); state != SlotFree {
			t.Errorf("slot %d state = %s, want free", i, StateName(state))
		}
	}
}

// TestOpenRegionSharesState checks that two mappings of one region see
// each other's writes.
func TestOpenRegionSharesState(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "share")
	RemoveRegion(name)
	server, err := CreateRegion(name, 4, 7)
	if err != nil {
		t.Fatalf("CreateRegion failed: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		RemoveRegion(name)
	})

	client, err := OpenRegion(name)
	if err != nil {
		t.Fatalf("OpenRegion failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if client.Header().Generation() != 7 {
		t.Errorf("client sees generation %d, want 7", client.Header().Generation())
	}

	// A write through one mapping is visible through the other
	server.Slot(2).SetRequestID(12345)
	if got := client.Slot(2).RequestID(); got != 12345 {
		t.Errorf("client sees requestID %d, want 12345", got)
	}
	client.Slot(2).SetState(SlotFilled)
	if got := server.Slot(2).State(); got != SlotFilled {
		t.Errorf("server sees state %s, want filled", StateName(got))
	}
}

// TestOpenRegionRejectsCorruptHeader checks attach-time validation.
func TestOpenRegionRejectsCorruptHeader(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "corrupt")
	RemoveRegion(name)
	server, err := CreateRegion(name, 4, 1)
	if err != nil {
		t.Fatalf("CreateRegion failed: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		RemoveRegion(name)
	})

	server.Header().SetVersion(LayoutVersion + 9)
	if _, err := OpenRegion(name); err == nil {
		t.Error("OpenRegion accepted a header with a foreign version")
	}
	server.Header().SetVersion(LayoutVersion)

	server.Header().SetMagic([8]byte{'X'})
	if _, err := OpenRegion(name); err == nil {
		t.Error("OpenRegion accepted a header with bad magic")
	}
}

// TestOpenRegionRejectsTruncatedFile checks the minimum-size guard.
func TestOpenRegionRejectsTruncatedFile(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "tiny")
	path := RegionPath(name)
	if err := os.WriteFile(path, make([]byte, HeaderSize/2), 0600); err != nil {
		t.Fatalf("failed to plant truncated file: %v", err)
	}
	t.Cleanup(func() { os.Remove(path) })

	if _, err := OpenRegion(name); err == nil {
		t.Error("OpenRegion accepted a file smaller than the header")
	}
}

// TestSameFileDetectsReplacement checks the freshness probe that underpins
// restart detection: recreating the region swaps the inode.
func TestSameFileDetectsReplacement(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "replace")
	RemoveRegion(name)
	first, err := CreateRegion(name, 4, 1)
	if err != nil {
		t.Fatalf("CreateRegion failed: %v", err)
	}
	t.Cleanup(func() {
		first.Close()
		RemoveRegion(name)
	})

	client, err := OpenRegion(name)
	if err != nil {
		t.Fatalf("OpenRegion failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	same, err := client.SameFile()
	if err != nil {
		t.Fatalf("SameFile failed: %v", err)
	}
	if !same {
		t.Fatal("fresh attachment reported as replaced")
	}

	// A second server incarnation replaces the file wholesale
	second, err := CreateRegion(name, 4, 2)
	if err != nil {
		t.Fatalf("second CreateRegion failed: %v", err)
	}
	t.Cleanup(func() { second.Close() })

	same, err = client.SameFile()
	if err != nil {
		t.Fatalf("SameFile after replacement failed: %v", err)
	}
	if same {
		t.Error("replaced region not detected")
	}

	// And once the file is gone entirely, SameFile reports the stat error
	second.Close()
	RemoveRegion(name)
	if _, err := client.SameFile(); !os.IsNotExist(err) {
		t.Errorf("SameFile on a removed region: err = %v, want not-exist", err)
	}
}

// TestOpenRegionReadOnly checks the inspector mapping can read but is
// flagged read-only.
func TestOpenRegionReadOnly(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "ro")
	RemoveRegion(name)
	server, err := CreateRegion(name, 4, 9)
	if err != nil {
		t.Fatalf("CreateRegion failed: %v", err)
	}
	t.Cleanup(func() {
		server.Close()
		RemoveRegion(name)
	})

	ro, err := OpenRegionReadOnly(name)
	if err != nil {
		t.Fatalf("OpenRegionReadOnly failed: %v", err)
	}
	t.Cleanup(func() { ro.Close() })

	if !ro.ReadOnly() {
		t.Error("read-only mapping not flagged as such")
	}
	if server.ReadOnly() {
		t.Error("server mapping flagged read-only")
	}
	if ro.Header().Generation() != 9 {
		t.Errorf("read-only mapping sees generation %d, want 9", ro.Header().Generation())
	}
}

// TestRemoveRegion checks removal and existence probing.
func TestRemoveRegion(t *testing.T) {
	if !isLinuxPlatform() {
		t.Skip("shared memory regions only supported on Linux")
	}

	name := uniqueRegionName(t, "remove")
	RemoveRegion(name)

	if RegionExists(name) {
		t.Fatal("region reported existing before creation")
	}

	region, err := CreateRegion(name, 2, 1)
	if err != nil {
		t.Fatalf("CreateRegion failed: %v", err)
	}
	defer region.Close()

	if !RegionExists(name) {
		t.Error("region not reported existing after creation")
	}
	if err := RemoveRegion(name); err != nil {
		t.Errorf("RemoveRegion failed: %v", err)
	}
	if RegionExists(name) {
		t.Error("region reported existing after removal")
	}
	if err := RemoveRegion(name); !os.IsNotExist(err) {
		t.Errorf("second RemoveRegion: err = %v, want not-exist", err)
	}
}
