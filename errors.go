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

package shmipc

import (
	"errors"
	"fmt"

	"shmipc/internal/shm"
)

// Sentinel errors returned by the client library. Compare with errors.Is.
var (
	// ErrNoCapacity is returned when every request slot is occupied.
	// Allocation is fail-fast; callers retry after consuming results.
	ErrNoCapacity = errors.New("all request slots are occupied")

	// ErrServerRestarted is returned once per server replacement on the
	// session level, and once per outstanding request id. The client has
	// already reattached when the session-level error is returned.
	ErrServerRestarted = errors.New("server restarted")

	// ErrNotReady is returned by Poll while the request is in flight.
	ErrNotReady = errors.New("request not ready")

	// ErrUnknownRequest is returned by Poll for an id this client never
	// issued, or whose result was already delivered.
	ErrUnknownRequest = errors.New("unknown request id")

	// ErrShuttingDown is returned when the server no longer accepts
	// submissions.
	ErrShuttingDown = errors.New("server is shutting down")

	// ErrNotRunning is returned when no live region exists to attach to.
	ErrNotRunning = errors.New("server is not running")

	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("client is closed")

	// ErrLockTimeout is returned when the shared allocation mutex stayed
	// unavailable through the bounded retry budget. The usual cause is a
	// process that died while holding it.
	ErrLockTimeout = shm.ErrLockTimeout

	// ErrUnsupportedPlatform is returned on platforms without Linux
	// futex support.
	ErrUnsupportedPlatform = shm.ErrUnsupportedPlatform
)

// OperationError reports a blocking submission that completed with a
// failure status. Use errors.As to retrieve it.
type OperationError struct {
	Op     Op
	Status Status
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}
