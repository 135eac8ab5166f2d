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
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// parseSize parses a `disk-set`/`mem-set` size argument: an optional
// leading "+" for a value relative to current, an integer, and an
// optional unit suffix (G/GiB or M/MiB, case-insensitive; defaultUnit
// picks the unit when none is given). Returns the new absolute value in
// defaultUnit's own scale (GiB for disk-set, MiB for mem-set).
func parseSize(s string, current int64, defaultUnit string) (int64, error) {
	relative := strings.HasPrefix(s, "+")
	s = strings.TrimPrefix(s, "+")

	unit := defaultUnit
	lower := strings.ToLower(s)
	for _, suf := range []string{"gib", "mib", "g", "m"} {
		if strings.HasSuffix(lower, suf) {
			s = s[:len(s)-len(suf)]
			unit = strings.ToUpper(suf[:1])
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	switch {
	case unit == "G" && defaultUnit == "M":
		n *= 1024
	case unit == "M" && defaultUnit == "G":
		n = (n + 1023) / 1024
	}

	if relative {
		return current + n, nil
	}
	return n, nil
}

var diskSetCmd = &cobra.Command{
	Use:   "disk-set VM_HOSTNAME SIZE",
	Short: "grow a VM's disk (GiB by default; shrinking is rejected)",
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
		newSizeGiB, err := parseSize(args[1], v.Record.GetInt("disk_size_gib"), "G")
		if err != nil {
			return err
		}

		if err := hv.ResizeDisk(ctx, v, newSizeGiB); err != nil {
			return err
		}
		v.Record.Set("disk_size_gib", newSizeGiB)
		if err := app.Gateway.Commit(ctx, "vm", v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s disk set to %d GiB\n", v.Hostname(), newSizeGiB)
		return nil
	},
}

var (
	memSetOffline bool
)

var memSetCmd = &cobra.Command{
	Use:   "mem-set VM_HOSTNAME SIZE",
	Short: "change a VM's memory (MiB by default; multiple of 128 x num_numa_nodes)",
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

		currentMiB := v.Record.GetInt("memory")
		newMiB, err := parseSize(args[1], currentMiB, "M")
		if err != nil {
			return err
		}
		numNodes := v.Record.GetInt("num_numa_nodes")
		if numNodes < 1 {
			numNodes = 1
		}
		if newMiB%(128*numNodes) != 0 {
			return fmt.Errorf("memory size must be a multiple of %d MiB (128 x %d NUMA nodes)", 128*numNodes, numNodes)
		}

		if memSetOffline {
			running, err := hv.VMRunning(ctx, v)
			if err != nil {
				return err
			}
			if running {
				if err := hv.StopVM(ctx, v); err != nil {
					return err
				}
			}
			v.Record.Set("memory", newMiB)
			if err := hv.Redefine(ctx, v); err != nil {
				return err
			}
			if err := hv.StartVM(ctx, v); err != nil {
				return err
			}
		} else {
			if err := hv.SetMemoryLive(ctx, v, currentMiB, newMiB, true); err != nil {
				return err
			}
			v.Record.Set("memory", newMiB)
		}

		if err := app.Gateway.Commit(ctx, "vm", v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s memory set to %d MiB\n", v.Hostname(), newMiB)
		return nil
	},
}

var (
	vcpuSetOffline bool
)

var vcpuSetCmd = &cobra.Command{
	Use:   "vcpu-set VM_HOSTNAME COUNT",
	Short: "change a VM's vCPU count",
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
		count, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid vcpu count %q: %w", args[1], err)
		}

		if vcpuSetOffline {
			running, err := hv.VMRunning(ctx, v)
			if err != nil {
				return err
			}
			if running {
				if err := hv.StopVM(ctx, v); err != nil {
					return err
				}
			}
			v.Record.Set("num_cpu", count)
			if err := hv.Redefine(ctx, v); err != nil {
				return err
			}
			if err := hv.StartVM(ctx, v); err != nil {
				return err
			}
		} else {
			if err := hv.SetVCPUsLive(ctx, v, count); err != nil {
				return err
			}
			v.Record.Set("num_cpu", count)
		}

		if err := app.Gateway.Commit(ctx, "vm", v.Record); err != nil {
			return fmt.Errorf("commit inventory: %w", err)
		}
		cmd.Printf("%s vcpus set to %d\n", v.Hostname(), count)
		return nil
	},
}

func init() {
	memSetCmd.Flags().BoolVar(&memSetOffline, "offline", false, "shut down, change memory, and restart")
	vcpuSetCmd.Flags().BoolVar(&vcpuSetOffline, "offline", false, "shut down, change vcpus, and restart")
	rootCmd.AddCommand(diskSetCmd, memSetCmd, vcpuSetCmd)
}
