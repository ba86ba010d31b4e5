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

// Package shmipc is the client library for the shmipcd request/response
// substrate: a fixed table of request slots in a shared memory region,
// coordinated with futexes, served by a local daemon.
//
// A client attaches to the daemon's region with Attach and submits
// operations either blocking (SubmitBlocking, or the Add/Subtract
// wrappers) or asynchronously (SubmitAsync, or the Multiply/Divide/
// Concat/Search wrappers, with results retrieved via Poll).
//
// If the daemon restarts, in-flight state is lost: the client reattaches
// transparently and reports ErrServerRestarted exactly once for the
// session and once per outstanding request id.
//
// The substrate requires Linux futexes; on other platforms Attach returns
// ErrUnsupportedPlatform.
package shmipc
