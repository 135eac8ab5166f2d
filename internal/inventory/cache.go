/*
SPDX-FileCopyrightText: Copyright 2024 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inventory

import (
	"context"
	"sync"
)

// Cache is the one permitted short-lived exception to "never cache
// records across operations without re-reading": a per-pipeline-run
// memoization of Get lookups, scoped to the lifetime of a single CLI
// invocation, to avoid N+1 queries when the selector ranks many
// hypervisors against the same VM.
type Cache struct {
	gw Gateway
	mu sync.Mutex
	m  map[string]*Record
}

// NewCache wraps gw with a per-run cache.
func NewCache(gw Gateway) *Cache {
	return &Cache{gw: gw, m: map[string]*Record{}}
}

func cacheKey(kind, hostname string) string { return kind + "/" + hostname }

// Get returns the cached record for (kind, hostname), fetching it through
// the underlying gateway on first use.
func (c *Cache) Get(ctx context.Context, kind, hostname string) (*Record, error) {
	key := cacheKey(kind, hostname)

	c.mu.Lock()
	if r, ok := c.m[key]; ok {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	r, err := c.gw.Get(ctx, kind, hostname)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.m[key] = r
	c.mu.Unlock()
	return r, nil
}

// Query always goes straight to the underlying gateway: a filtered list
// can change in shape between calls, unlike a single keyed record.
func (c *Cache) Query(ctx context.Context, kind string, filters Filters) ([]*Record, error) {
	return c.gw.Query(ctx, kind, filters)
}

// Commit writes through to the underlying gateway and refreshes the
// cache entry so subsequent Gets in the same run observe the write.
func (c *Cache) Commit(ctx context.Context, kind string, r *Record) error {
	if err := c.gw.Commit(ctx, kind, r); err != nil {
		return err
	}
	c.mu.Lock()
	c.m[cacheKey(kind, r.GetString("hostname"))] = r
	c.mu.Unlock()
	return nil
}

// Delete evicts the cache entry and deletes through to the gateway.
func (c *Cache) Delete(ctx context.Context, kind, hostname string) error {
	if err := c.gw.Delete(ctx, kind, hostname); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.m, cacheKey(kind, hostname))
	c.mu.Unlock()
	return nil
}

// Flush drops every cached record. Call at the end of a pipeline run.
func (c *Cache) Flush() {
	c.mu.Lock()
	c.m = map[string]*Record{}
	c.mu.Unlock()
}

var _ Gateway = (*Cache)(nil)
var _ Gateway = (*HTTPGateway)(nil)
