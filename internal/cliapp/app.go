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

// Package cliapp wires the shared runtime both cmd/igvm and cmd/igvmd
// bootstrap from: settings, the inventory gateway, and the SSH executor
// used to reach hypervisors and guests. Kept separate from cmd/igvm so
// the daemon does not have to depend on cobra.
package cliapp

import (
	"context"
	"fmt"
	"os"

	"github.com/innogames/igvm/internal/config"
	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/selector"
	"github.com/innogames/igvm/internal/transport"
	"github.com/innogames/igvm/internal/vm"
)

// App bundles the settings and collaborators every subcommand needs.
type App struct {
	Config config.Settings
	Gateway inventory.Gateway
	Exec    transport.Executor

	IgnoreReserved bool
}

// New loads settings from cfgPath (falling back to config.Default if
// cfgPath is empty) and builds the serveradmin gateway from the
// IGVM_SERVERADMIN_URL/IGVM_SERVERADMIN_TOKEN environment variables,
// mirroring igvm's own reliance on environment-provided credentials
// rather than CLI flags for secrets.
func New(cfgPath string) (*App, error) {
	settings := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		settings = loaded
	}

	baseURL := os.Getenv("IGVM_SERVERADMIN_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("IGVM_SERVERADMIN_URL is not set")
	}
	token := os.Getenv("IGVM_SERVERADMIN_TOKEN")

	return &App{
		Config:  settings,
		Gateway: inventory.NewHTTPGateway(baseURL, token),
		Exec:    transport.NewSSHExecutor(settings.SSHUser),
	}, nil
}

// Hypervisor looks up hostname in inventory and wraps it, using the
// app's shared executor to reach it.
func (a *App) Hypervisor(ctx context.Context, hostname string) (*hypervisor.Hypervisor, error) {
	rec, err := a.Gateway.Get(ctx, inventory.KindHypervisor, hostname)
	if err != nil {
		return nil, fmt.Errorf("look up hypervisor %s: %w", hostname, err)
	}
	return hypervisor.New(rec, a.Exec), nil
}

// VM looks up hostname in inventory and wraps it together with the
// hypervisor currently hosting it, if any.
func (a *App) VM(ctx context.Context, hostname string) (*vm.VM, error) {
	rec, err := a.Gateway.Get(ctx, inventory.KindVM, hostname)
	if err != nil {
		return nil, fmt.Errorf("look up VM %s: %w", hostname, err)
	}
	return vm.New(rec, rec.GetString("hypervisor"), a.Exec), nil
}

// HostedVMs implements selector.HostedVMs by querying every VM record
// whose hypervisor attribute names hv, backing the selector's
// co-residency constraints/preferences.
func (a *App) HostedVMs(ctx context.Context, hv *hypervisor.Hypervisor) ([]*vm.VM, error) {
	recs, err := a.Gateway.Query(ctx, inventory.KindVM, inventory.Filters{"hypervisor": hv.Hostname()})
	if err != nil {
		return nil, err
	}
	out := make([]*vm.VM, 0, len(recs))
	for _, rec := range recs {
		out = append(out, vm.New(rec, hv.Hostname(), a.Exec))
	}
	return out, nil
}

// Candidates returns every hypervisor in inventory, wrapped and ready to
// be run through the selector.
func (a *App) Candidates(ctx context.Context) ([]*hypervisor.Hypervisor, error) {
	recs, err := a.Gateway.Query(ctx, inventory.KindHypervisor, inventory.Filters{})
	if err != nil {
		return nil, err
	}
	out := make([]*hypervisor.Hypervisor, 0, len(recs))
	for _, rec := range recs {
		out = append(out, hypervisor.New(rec, a.Exec))
	}
	return out, nil
}

// DefaultConstraints returns the constraint set every placement decision
// (build, migrate, evacuation) applies, parameterized by the app's loaded
// settings.
func (a *App) DefaultConstraints() []selector.Constraint {
	reserved := a.Config.HostReservedDiskGiB
	if a.IgnoreReserved {
		reserved = 0
	}
	return []selector.Constraint{
		selector.KVMOnly{},
		selector.Memory{},
		selector.RouteNetwork{},
		selector.DiskSpace{
			Reserved: reserved * 1024,
			FreeMiB: func(ctx context.Context, hv *hypervisor.Hypervisor) (int64, error) {
				return hv.Record.GetInt("disk_free_mib"), nil
			},
		},
		selector.HypervisorMaxVcpuUsage{Threshold: 0.95},
		selector.EnsureFunctionDistribution{HostedVMs: a.HostedVMs},
	}
}

// DefaultPreferences returns the preference set every placement decision
// scores candidates by.
func (a *App) DefaultPreferences() []selector.Preference {
	return []selector.Preference{
		selector.InsufficientResource{
			HVAttribute: "num_ram", VMAttribute: "memory", Reserved: a.Config.HostReservedMemoryMiB,
			HostedVMs: a.HostedVMs,
		},
		selector.OtherVMs{Attributes: []string{"function_identifier"}, HostedVMs: a.HostedVMs},
		selector.HypervisorEnvironmentValue{},
		selector.OverAllocation{HostedVMs: a.HostedVMs},
	}
}
