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
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info VM_HOSTNAME",
	Short: "print a VM's inventory and live hypervisor state",
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
		running := false
		if defined {
			running, err = hv.VMRunning(ctx, v)
			if err != nil {
				return err
			}
		}

		cmd.Printf("hostname:      %s\n", v.Hostname())
		cmd.Printf("hypervisor:    %s\n", hv.Hostname())
		cmd.Printf("state:         %s\n", v.Record.GetString("state"))
		cmd.Printf("defined:       %t\n", defined)
		cmd.Printf("running:       %t\n", running)
		cmd.Printf("memory_mib:    %d\n", v.Record.GetInt("memory"))
		cmd.Printf("num_cpu:       %d\n", v.Record.GetInt("num_cpu"))
		cmd.Printf("disk_size_gib: %d\n", v.Record.GetInt("disk_size_gib"))
		cmd.Printf("intern_ip:     %s\n", v.Record.GetString("intern_ip"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
