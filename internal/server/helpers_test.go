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

package server

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"shmipc/internal/shm"
)

// isLinuxPlatform reports whether the futex-backed substrate is usable.
func isLinuxPlatform() bool {
	return runtime.GOOS == "linux"
}

// uniqueRegionName derives a region name from the test name and a
// timestamp so parallel tests never collide.
func uniqueRegionName(t *testing.T, baseName string) string {
	t.Helper()
	return fmt.Sprintf("%s-%s-%d", baseName, strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
}

// newTestTable creates a region with cleanup and wraps it in a table.
func newTestTable(t *testing.T, capacity uint32) *shm.Table {
	t.Helper()

	name := uniqueRegionName(t, "srv")
	shm.RemoveRegion(name)
	region, err := shm.CreateRegion(name, capacity, 1)
	if err != nil {
		t.Fatalf("Failed to create test region %s: %v", name, err)
	}
	t.Cleanup(func() {
		region.Close()
		shm.RemoveRegion(name)
	})
	return shm.NewTable(region)
}
