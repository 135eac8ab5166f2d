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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/metrics"
	"github.com/innogames/igvm/internal/migration"
	"github.com/innogames/igvm/internal/selector"
	"github.com/innogames/igvm/internal/transaction"
	"github.com/innogames/igvm/internal/vm"
)

var (
	migrateNewIP            string
	migrateRunPuppet        bool
	migrateMaintenance      bool
	migrateOffline          bool
	migrateOfflineTransport string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate VM_HOSTNAME [HYPERVISOR_HOSTNAME]",
	Short: "move a VM to another hypervisor, live or offline",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		v, err := app.VM(ctx, args[0])
		if err != nil {
			return err
		}
		src, err := app.Hypervisor(ctx, v.HVHost)
		if err != nil {
			return fmt.Errorf("look up current hypervisor: %w", err)
		}

		offline := migrateOffline
		running, err := src.VMRunning(ctx, v)
		if err != nil {
			return err
		}
		if !offline && !running {
			// There is no point doing an online move of a VM that is
			// already shut down.
			offline = true
		}
		if !offline && migrateNewIP != "" {
			return fmt.Errorf("online migration cannot change IP address")
		}
		if !offline && migrateRunPuppet {
			return fmt.Errorf("online migration cannot run Puppet")
		}
		if !migrateRunPuppet && migrateNewIP != "" {
			return fmt.Errorf("changing IP requires a Puppet run, pass --runpuppet")
		}

		dst, err := resolveMigrationTarget(ctx, args, v, src)
		if err != nil {
			return err
		}

		if err := migration.CheckPreconditions(ctx, src, dst, v, offline); err != nil {
			return err
		}

		tx := transaction.New()
		opts := migration.Options{
			Offline:      offline,
			RunPuppet:    migrateRunPuppet,
			NewIP:        migrateNewIP,
			PuppetCAHost: app.Config.PuppetCAMasters[0],
			DNSServers:   v.Record.GetStringSet("dns_servers"),
			Netmask:      v.Record.GetString("netmask"),
			Gateway:      v.Record.GetString("gateway"),
			Transport:    migrateOfflineTransport,
		}

		if offline {
			if migrateMaintenance {
				v.Record.Set("state", "maintenance")
			}
			if err := migration.Offline(ctx, tx, app.Gateway, src, dst, v, opts); err != nil {
				tx.Rollback()
				return err
			}
		} else {
			srcVirt, err := src.Raw(ctx)
			if err != nil {
				return err
			}
			dstVirt, err := dst.Raw(ctx)
			if err != nil {
				return err
			}
			report := func(p migration.Progress) {
				cmd.Printf("%s\n", p.String())
				metrics.RecordMigrationProgress(v.Hostname(), p.DiskProcessed, p.DiskTotal, p.MemProcessed, p.MemTotal, p.DiskBps)
			}
			defer metrics.ClearMigrationProgress(v.Hostname())
			if err := migration.Online(ctx, tx, app.Gateway, src, dst, v, srcVirt, dstVirt, report); err != nil {
				tx.Rollback()
				return err
			}
		}

		cmd.Printf("migrated %s from %s to %s\n", v.Hostname(), src.Hostname(), dst.Hostname())
		return nil
	},
}

func init() {
	flags := migrateCmd.Flags()
	flags.StringVar(&migrateNewIP, "newip", "", "move the VM to this IP address (requires --runpuppet)")
	flags.BoolVar(&migrateRunPuppet, "runpuppet", false, "run Puppet in chroot on the destination before powering up")
	flags.BoolVar(&migrateMaintenance, "maintenance", false, "set inventory state to maintenance for the duration of the move")
	flags.BoolVar(&migrateOffline, "offline", false, "force an offline migration, also implies --maintenance")
	flags.StringVar(&migrateOfflineTransport, "offline-transport", "drbd", "disk transport for offline migration: drbd or netcat")
	rootCmd.AddCommand(migrateCmd)
}

// resolveMigrationTarget returns the explicit destination hypervisor when
// args names one, otherwise runs the placement pipeline (component K)
// over every other hypervisor in inventory, mirroring migratevm's own
// optional hypervisor_hostname positional.
func resolveMigrationTarget(ctx context.Context, args []string, v *vm.VM, src *hypervisor.Hypervisor) (*hypervisor.Hypervisor, error) {
	if len(args) == 2 {
		return app.Hypervisor(ctx, args[1])
	}

	candidates, err := app.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]*hypervisor.Hypervisor, 0, len(candidates))
	for _, hv := range candidates {
		if hv.Hostname() != src.Hostname() {
			filtered = append(filtered, hv)
		}
	}

	survivors, err := selector.Filter(ctx, v, filtered, app.DefaultConstraints())
	if err != nil {
		return nil, err
	}
	ranked, err := selector.Rank(ctx, v, survivors, app.DefaultPreferences())
	if err != nil {
		return nil, err
	}
	dst, ok := selector.Best(ranked)
	if !ok {
		return nil, fmt.Errorf("no hypervisor available to migrate %s to", v.Hostname())
	}
	return dst, nil
}
