//go:build !linux

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

func init() {
	unmapMemory = func([]byte) error { return nil }
}

// CreateRegion is not supported on this platform
func CreateRegion(name string, capacity uint32, generation uint64) (*Region, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenRegion is not supported on this platform
func OpenRegion(name string) (*Region, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenRegionReadOnly is not supported on this platform
func OpenRegionReadOnly(name string) (*Region, error) {
	return nil, ErrUnsupportedPlatform
}
