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
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/innogames/igvm/internal/inventory"
)

var syncCmd = &cobra.Command{
	Use:   "sync VM_HOSTNAME",
	Short: "reconcile the inventory memory and vCPU count with what the hypervisor actually reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		v, err := app.VM(ctx, args[0])
		if err != nil {
			return err
		}
		hv, err := app.Hypervisor(ctx, v.HVHost)
		if err != nil {
			return err
		}

		synced, err := hv.VMSyncFromHypervisor(ctx, v)
		if err != nil {
			return err
		}

		before := fmt.Sprintf("memory=%d num_cpu=%d", v.Record.GetInt("memory"), v.Record.GetInt("num_cpu"))
		changed := v.Record.GetInt("memory") != synced.MemoryMiB || v.Record.GetInt("num_cpu") != synced.NumCPU
		v.Record.Set("memory", synced.MemoryMiB)
		v.Record.Set("num_cpu", synced.NumCPU)

		if !changed {
			cmd.Printf("%s already in sync (%s)\n", v.Hostname(), before)
			return nil
		}

		if err := app.Gateway.Commit(ctx, inventory.KindVM, v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s synced: %s -> memory=%d num_cpu=%d\n", v.Hostname(), before, synced.MemoryMiB, synced.NumCPU)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
