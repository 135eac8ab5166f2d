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

package housekeeping

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/vm"
)

// RetiredStore persists the first-seen timestamp of every VM observed in
// inventory state "retired", at a plain JSON file. No dependency in this
// module's pack offers a richer embedded KV/document store than stdlib
// encoding/json for a single small map that only igvmd itself reads and
// writes, so this is a deliberate stdlib choice.
type RetiredStore struct {
	Path string
}

type retiredEntry struct {
	FirstSeen time.Time `json:"first_seen"`
}

func (s *RetiredStore) load() (map[string]retiredEntry, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return map[string]retiredEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read retired VM store: %w", err)
	}
	var entries map[string]retiredEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode retired VM store: %w", err)
	}
	return entries, nil
}

func (s *RetiredStore) save(entries map[string]retiredEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode retired VM store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("create retired VM store directory: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("write retired VM store: %w", err)
	}
	return nil
}

// ReapRetired implements the housekeeping daemon's reaper: any VM in
// inventory state "retired" for at least grace (measured from the first
// time this function observed it, not from whenever the state actually
// flipped) is undefined, has its storage destroyed, and is deleted from
// inventory outright. now is threaded through explicitly so tests can
// fast-forward the grace period, mirroring hypervisor.LockAbandoned.
func ReapRetired(ctx context.Context, app *cliapp.App, store *RetiredStore, grace time.Duration, now time.Time) error {
	recs, err := app.Gateway.Query(ctx, inventory.KindVM, inventory.Filters{"state": "retired"})
	if err != nil {
		return fmt.Errorf("query retired VMs: %w", err)
	}

	seen, err := store.load()
	if err != nil {
		return err
	}

	live := make(map[string]retiredEntry, len(recs))
	dirty := false
	var firstErr error

	for _, rec := range recs {
		hostname := rec.GetString("hostname")
		entry, tracked := seen[hostname]
		if !tracked {
			entry = retiredEntry{FirstSeen: now}
			dirty = true
		}

		if now.Sub(entry.FirstSeen) < grace {
			live[hostname] = entry
			continue
		}

		log.Log.Info("reaper: retiring VM past grace period", "vm", hostname, "retired_since", entry.FirstSeen)
		hv, err := app.Hypervisor(ctx, rec.GetString("hypervisor"))
		if err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("look up hypervisor for %s: %w", hostname, err))
			live[hostname] = entry
			continue
		}
		guest := vm.New(rec, hv.Hostname(), app.Exec)

		if err := hv.UndefineVM(ctx, guest); err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("undefine %s: %w", hostname, err))
			live[hostname] = entry
			continue
		}
		if err := hv.DestroyVMStorage(ctx, guest); err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("destroy storage for %s: %w", hostname, err))
			live[hostname] = entry
			continue
		}
		if err := app.Gateway.Delete(ctx, inventory.KindVM, hostname); err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("delete inventory record for %s: %w", hostname, err))
			live[hostname] = entry
			continue
		}
		dirty = true
	}

	if dirty {
		if err := store.save(live); err != nil {
			return err
		}
	}
	return firstErr
}
