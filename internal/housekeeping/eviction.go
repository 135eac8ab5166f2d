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

// Package housekeeping carries igvmd's long-running maintenance work: VM
// eviction ahead of a host reboot, the retired-VM reaper, and the
// igvm_locked abandonment cleaner, all driven off the same inventory
// gateway and selector pipeline the igvm CLI uses interactively.
package housekeeping

import (
	"context"
	"fmt"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/metrics"
	"github.com/innogames/igvm/internal/migration"
	"github.com/innogames/igvm/internal/selector"
	"github.com/innogames/igvm/internal/transaction"
)

// EvictAll migrates every VM hosted on hv onto some other hypervisor in
// the fleet, used as the systemd shutdown-inhibitor callback so a reboot
// never takes running guests down with it. Each VM runs the same
// filter/rank/online-migrate pipeline a manual `igvm migrate` would, one
// at a time, so a single placement failure does not abort the rest of
// the evacuation.
func EvictAll(ctx context.Context, app *cliapp.App, hv *hypervisor.Hypervisor) error {
	hosted, err := app.HostedVMs(ctx, hv)
	if err != nil {
		return fmt.Errorf("list VMs hosted on %s: %w", hv.Hostname(), err)
	}
	if len(hosted) == 0 {
		log.Log.Info("eviction: no VMs hosted, nothing to evacuate", "hypervisor", hv.Hostname())
		return nil
	}

	candidates, err := app.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("list hypervisors: %w", err)
	}
	others := make([]*hypervisor.Hypervisor, 0, len(candidates))
	for _, other := range candidates {
		if other.Hostname() != hv.Hostname() {
			others = append(others, other)
		}
	}

	var firstErr error
	for _, v := range hosted {
		survivors, err := selector.Filter(ctx, v, others, app.DefaultConstraints())
		if err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("filter candidates for %s: %w", v.Hostname(), err))
			continue
		}
		ranked, err := selector.Rank(ctx, v, survivors, app.DefaultPreferences())
		if err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("rank candidates for %s: %w", v.Hostname(), err))
			continue
		}
		dst, ok := selector.Best(ranked)
		if !ok {
			firstErr = collectErr(firstErr, fmt.Errorf("no hypervisor available to evacuate %s to", v.Hostname()))
			continue
		}

		srcVirt, err := hv.Raw(ctx)
		if err != nil {
			firstErr = collectErr(firstErr, err)
			continue
		}
		dstVirt, err := dst.Raw(ctx)
		if err != nil {
			firstErr = collectErr(firstErr, err)
			continue
		}

		log.Log.Info("eviction: migrating VM", "vm", v.Hostname(), "from", hv.Hostname(), "to", dst.Hostname())
		tx := transaction.New()
		report := func(p migration.Progress) {
			log.Log.V(1).Info("eviction: migration progress", "vm", v.Hostname(), "progress", p.String())
			metrics.RecordMigrationProgress(v.Hostname(), p.DiskProcessed, p.DiskTotal, p.MemProcessed, p.MemTotal, p.DiskBps)
		}
		err = migration.Online(ctx, tx, app.Gateway, hv, dst, v, srcVirt, dstVirt, report)
		metrics.ClearMigrationProgress(v.Hostname())
		if err != nil {
			tx.Rollback()
			firstErr = collectErr(firstErr, fmt.Errorf("evacuate %s: %w", v.Hostname(), err))
			continue
		}
	}
	return firstErr
}

func collectErr(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}
