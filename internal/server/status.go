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
	"fmt"
	"io"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Snapshot is a point-in-time view of the server for the status report.
// Collecting it reads shared state but never writes it.
type Snapshot struct {
	PID        int          `json:"pid"`
	Uptime     string       `json:"uptime"`
	Mode       string       `json:"mode"`
	Generation uint64       `json:"generation"`
	Pools      []PoolStatus `json:"pools"`
	Slots      SlotStatus   `json:"slots"`
}

// PoolStatus describes one worker pool.
type PoolStatus struct {
	Name      string `json:"name"`
	Size      int    `json:"size"`
	Busy      int    `json:"busy"`
	Idle      int    `json:"idle"`
	Completed uint64 `json:"completed"`
}

// SlotStatus counts table slots by state.
type SlotStatus struct {
	Free     uint32 `json:"free"`
	Filled   uint32 `json:"filled"`
	Claimed  uint32 `json:"claimed"`
	Done     uint32 `json:"done"`
	Capacity uint32 `json:"capacity"`
}

// formatUptime renders a duration the way the report expects: whole
// seconds, largest unit first.
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

// WriteText renders the snapshot as the line-oriented status report.
func (s Snapshot) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "[STATUS] pid=%d uptime=%s mode=%s generation=%d\n",
		s.PID, s.Uptime, s.Mode, s.Generation); err != nil {
		return err
	}
	for _, p := range s.Pools {
		if _, err := fmt.Fprintf(w, "[STATUS] pool=%s size=%d busy=%d idle=%d completed=%d\n",
			p.Name, p.Size, p.Busy, p.Idle, p.Completed); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "[STATUS] slots free=%d filled=%d claimed=%d done=%d capacity=%d\n",
		s.Slots.Free, s.Slots.Filled, s.Slots.Claimed, s.Slots.Done, s.Slots.Capacity)
	return err
}

// WriteJSON renders the snapshot as a single JSON object.
func (s Snapshot) WriteJSON(w io.Writer) error {
	data, err := sonnet.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
