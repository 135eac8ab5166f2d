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

// Command igvm is the single command-line front end for the VM fleet:
// one whole-lifecycle operation (build, migrate, disk-set, mem-set,
// vcpu-set, start, stop, restart, delete, info, sync, rebuild, rename)
// per invocation, each taking the VM hostname as its first argument.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/log"
)

var (
	cfgPath        string
	silent         bool
	verbose        bool
	ignoreReserved bool

	app *cliapp.App
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "igvm:", err)
		os.Exit(igvmerr.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "igvm",
	Short:         "provision, migrate, resize, and decommission VMs across the hypervisor fleet",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Setup(verbose)
		a, err := cliapp.New(cfgPath)
		if err != nil {
			return err
		}
		a.IgnoreReserved = ignoreReserved
		app = a
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "/etc/igvm/settings.yaml", "path to the YAML settings file")
	flags.BoolVarP(&silent, "silent", "s", false, "accepted, but has no effect on output")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	flags.BoolVar(&ignoreReserved, "ignore-reserved", false, "ignore host-reserved memory/disk headroom when placing a VM")
}

// isTTY reports whether stdout is an interactive terminal. No command
// calls it; diagnostics are printed without colour either way.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
