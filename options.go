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

import "go.uber.org/zap"

// DefaultRegionName is the region Attach uses when WithRegion is absent.
const DefaultRegionName = "default"

type clientOptions struct {
	region string
	log    *zap.Logger
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		region: DefaultRegionName,
		log:    zap.NewNop(),
	}
}

// Option configures Attach.
type Option func(*clientOptions)

// WithRegion attaches to the named region instead of DefaultRegionName.
// The name must match the daemon's region.name configuration.
func WithRegion(name string) Option {
	return func(o *clientOptions) {
		o.region = name
	}
}

// WithLogger installs a logger for client-side diagnostics such as
// reattach events. The default is a nop logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.log = l
		}
	}
}
