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
	"fmt"
	"time"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/log"
)

// ReapAbandonedLocks clears igvm_locked on every hypervisor whose lock
// has aged past the timeout baked into hypervisor.LockAbandoned, freeing
// it up for the next build/migrate/evacuation to acquire. A build or
// migrate that panics or gets killed between AcquireLock and ReleaseLock
// would otherwise wedge that hypervisor out of placement forever.
func ReapAbandonedLocks(ctx context.Context, app *cliapp.App, now time.Time) error {
	hvs, err := app.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("list hypervisors: %w", err)
	}

	var firstErr error
	for _, hv := range hvs {
		if !hv.LockAbandoned(now) {
			continue
		}
		log.Log.Info("reaper: clearing abandoned lock", "hypervisor", hv.Hostname())
		hv.ReleaseLock()
		if err := app.Gateway.Commit(ctx, inventory.KindHypervisor, hv.Record); err != nil {
			firstErr = collectErr(firstErr, fmt.Errorf("commit %s: %w", hv.Hostname(), err))
		}
	}
	return firstErr
}
