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
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"
)

// isLinuxPlatform reports whether the futex-backed substrate is usable.
func isLinuxPlatform() bool {
	return runtime.GOOS == "linux"
}

// uniqueRegionName derives a region name from the test name and a
// timestamp so parallel tests never collide; path-hostile characters
// from subtests are flattened.
func uniqueRegionName(t *testing.T, baseName string) string {
	t.Helper()
	return fmt.Sprintf("%s-%s-%d", baseName, strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
}

// createTestRegion creates a region with a unique name and proper cleanup.
// It automatically registers cleanup with t.Cleanup() to ensure the region
// is always removed even if the test fails or panics.
func createTestRegion(t *testing.T, baseName string, capacity uint32, generation uint64) *Region {
	t.Helper()

	name := uniqueRegionName(t, baseName)

	// Ensure any existing region is removed first
	RemoveRegion(name)

	region, err := CreateRegion(name, capacity, generation)
	if err != nil {
		t.Fatalf("Failed to create test region %s: %v", name, err)
	}

	// Register cleanup to ensure the region is always cleaned up
	t.Cleanup(func() {
		if region != nil {
			region.Close()
		}
		RemoveRegion(name)
	})

	return region
}
