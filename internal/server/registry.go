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
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// registrySchema records one row per server incarnation. The AUTOINCREMENT
// rowid doubles as the generation: SQLite never hands the same value out
// twice, which is exactly the never-reused guarantee sessions need.
const registrySchema = `
CREATE TABLE IF NOT EXISTS incarnations (
	generation    INTEGER PRIMARY KEY AUTOINCREMENT,
	pid           INTEGER NOT NULL,
	region        TEXT    NOT NULL,
	shutdown_mode TEXT    NOT NULL,
	started_at    INTEGER NOT NULL,
	stopped_at    INTEGER,
	completed     INTEGER,
	discarded     INTEGER
);
`

// Registry is the durable incarnation log. It is the generation source for
// the session header and an audit trail of past server runs.
type Registry struct {
	db   *sql.DB
	path string
	log  *zap.Logger
}

// OpenRegistry opens (creating if needed) the registry database at path.
func OpenRegistry(path string, log *zap.Logger) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create registry directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}

	return &Registry{db: db, path: path, log: log.Named("registry")}, nil
}

// Begin records a starting incarnation and returns its generation.
func (r *Registry) Begin(pid int, region, mode string) (uint64, error) {
	res, err := r.db.Exec(
		`INSERT INTO incarnations (pid, region, shutdown_mode, started_at) VALUES (?, ?, ?, ?)`,
		pid, region, mode, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to record incarnation: %w", err)
	}
	gen, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	r.log.Info("incarnation recorded",
		zap.Int64("generation", gen),
		zap.Int("pid", pid),
		zap.String("region", region))
	return uint64(gen), nil
}

// Finish records a clean shutdown for a generation with the work counters
// from the shutdown summary.
func (r *Registry) Finish(generation, completed, discarded uint64) error {
	_, err := r.db.Exec(
		`UPDATE incarnations SET stopped_at = ?, completed = ?, discarded = ? WHERE generation = ?`,
		time.Now().Unix(), completed, discarded, generation)
	if err != nil {
		return fmt.Errorf("failed to record shutdown: %w", err)
	}
	return nil
}

// LastGeneration returns the highest generation ever issued, zero when the
// registry is empty.
func (r *Registry) LastGeneration() (uint64, error) {
	var gen sql.NullInt64
	if err := r.db.QueryRow(`SELECT MAX(generation) FROM incarnations`).Scan(&gen); err != nil {
		return 0, fmt.Errorf("failed to query generations: %w", err)
	}
	if !gen.Valid {
		return 0, nil
	}
	return uint64(gen.Int64), nil
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
