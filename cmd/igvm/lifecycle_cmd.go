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

	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/inventory"
)

var startCmd = &cobra.Command{
	Use:   "start VM_HOSTNAME",
	Short: "power on a defined, stopped VM",
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
		if err := hv.StartVM(ctx, v); err != nil {
			return err
		}
		v.Record.Set("state", "online")
		if err := app.Gateway.Commit(ctx, inventory.KindVM, v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s started\n", v.Hostname())
		return nil
	},
}

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop VM_HOSTNAME",
	Short: "power off a running VM",
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
		if stopForce {
			err = hv.StopVMForce(ctx, v)
		} else {
			err = hv.StopVM(ctx, v)
		}
		if err != nil {
			return err
		}
		v.Record.Set("state", "stopped")
		if err := app.Gateway.Commit(ctx, inventory.KindVM, v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s stopped\n", v.Hostname())
		return nil
	},
}

var (
	restartForce      bool
	restartNoRedefine bool
)

var restartCmd = &cobra.Command{
	Use:   "restart VM_HOSTNAME",
	Short: "power-cycle a VM, optionally redefining its domain from inventory first",
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

		if restartForce {
			err = hv.StopVMForce(ctx, v)
		} else {
			err = hv.StopVM(ctx, v)
		}
		if err != nil {
			return err
		}
		if !restartNoRedefine {
			if err := hv.Redefine(ctx, v); err != nil {
				return err
			}
		}
		if err := hv.StartVM(ctx, v); err != nil {
			return err
		}
		cmd.Printf("%s restarted\n", v.Hostname())
		return nil
	},
}

var (
	deleteForce  bool
	deleteRetire bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete VM_HOSTNAME",
	Short: "remove a VM, or mark it retired for the housekeeping reaper",
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

		defined, err := hv.VMDefined(ctx, v)
		if err != nil {
			return err
		}
		if !defined {
			return igvmerr.InvalidState("delete", fmt.Errorf("%s is not defined on %s", v.Hostname(), hv.Hostname()))
		}

		running, err := hv.VMRunning(ctx, v)
		if err != nil {
			return err
		}
		if running {
			if !deleteForce {
				return igvmerr.InvalidState("delete", fmt.Errorf("%s is still running, pass --force", v.Hostname()))
			}
			if err := hv.StopVMForce(ctx, v); err != nil {
				return err
			}
		}

		if deleteRetire {
			v.Record.Set("state", "retired")
			if err := app.Gateway.Commit(ctx, inventory.KindVM, v.Record); err != nil {
				return fmt.Errorf("commit inventory: %w", err)
			}
			cmd.Printf("%s marked retired\n", v.Hostname())
			return nil
		}

		if err := hv.UndefineVM(ctx, v); err != nil {
			return err
		}
		if err := hv.DestroyVMStorage(ctx, v); err != nil {
			return err
		}
		if err := app.Gateway.Delete(ctx, inventory.KindVM, v.Hostname()); err != nil {
			return fmt.Errorf("delete inventory record: %w", err)
		}
		cmd.Printf("%s deleted\n", v.Hostname())
		return nil
	},
}

var rebuildForce bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild VM_HOSTNAME",
	Short: "undefine a VM and destroy its storage; does not re-provision it",
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

		running, err := hv.VMRunning(ctx, v)
		if err != nil {
			return err
		}
		if running {
			if !rebuildForce {
				return igvmerr.InvalidState("rebuild", fmt.Errorf("%s is still running, pass --force", v.Hostname()))
			}
			if err := hv.StopVMForce(ctx, v); err != nil {
				return err
			}
		}
		if err := hv.UndefineVM(ctx, v); err != nil {
			return err
		}
		if err := hv.DestroyVMStorage(ctx, v); err != nil {
			return err
		}

		return fmt.Errorf("rebuild: re-run 'igvm build %s' to re-provision from a clean slate", v.Hostname())
	},
}

var renameOffline bool

var renameCmd = &cobra.Command{
	Use:   "rename VM_HOSTNAME NEW_HOSTNAME",
	Short: "rename a VM's inventory hostname and redefine its domain; the hostname inside the guest is not changed",
	Args:  cobra.ExactArgs(2),
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

		running, err := hv.VMRunning(ctx, v)
		if err != nil {
			return err
		}
		if !renameOffline && running {
			return igvmerr.InvalidState("rename", fmt.Errorf("renaming a running VM requires --offline"))
		}
		if running {
			if err := hv.StopVM(ctx, v); err != nil {
				return err
			}
		}

		v.Record.Set("hostname", args[1])
		if err := app.Gateway.Commit(ctx, inventory.KindVM, v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		if err := hv.Redefine(ctx, v); err != nil {
			return err
		}
		if running {
			if err := hv.StartVM(ctx, v); err != nil {
				return err
			}
		}
		cmd.Printf("%s renamed to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "power off immediately instead of requesting ACPI shutdown")
	restartCmd.Flags().BoolVar(&restartForce, "force", false, "power off immediately instead of requesting ACPI shutdown")
	restartCmd.Flags().BoolVar(&restartNoRedefine, "no-redefine", false, "skip regenerating the domain XML from inventory before starting")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "stop the VM first if it is still running")
	deleteCmd.Flags().BoolVar(&deleteRetire, "retire", false, "mark retired instead of deleting immediately; the housekeeping daemon reaps it after 7 days")
	rebuildCmd.Flags().BoolVar(&rebuildForce, "force", false, "stop the VM first if it is still running")
	renameCmd.Flags().BoolVar(&renameOffline, "offline", false, "allow renaming a running VM by stopping it first")
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd, deleteCmd, rebuildCmd, renameCmd)
}
