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
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/innogames/igvm/internal/build"
	"github.com/innogames/igvm/internal/transaction"
)

var (
	buildLocalImage string
	buildPostboot   string
	buildNoPuppet   bool
)

var buildCmd = &cobra.Command{
	Use:   "build HOSTNAME",
	Short: "provision a new VM from inventory and a base image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		v, err := app.VM(ctx, args[0])
		if err != nil {
			return err
		}

		candidates, err := app.Candidates(ctx)
		if err != nil {
			return err
		}

		var postboot []byte
		if buildPostboot != "" {
			postboot, err = os.ReadFile(buildPostboot)
			if err != nil {
				return err
			}
		}
		operatorKeys, err := readOperatorKeys()
		if err != nil {
			return err
		}

		opts := build.Options{
			LocalImage:       buildLocalImage,
			PostbootScript:   postboot,
			NoPuppet:         buildNoPuppet,
			PuppetCAHost:     app.Config.PuppetCAMasters[0],
			OperatorKeys:     operatorKeys,
			DNSServers:       v.Record.GetStringSet("dns_servers"),
			Netmask:          v.Record.GetString("netmask"),
			Gateway:          v.Record.GetString("gateway"),
			ImageBaseURL:     os.Getenv("IGVM_IMAGE_BASE_URL"),
			ImageChecksumURL: os.Getenv("IGVM_IMAGE_CHECKSUM_URL"),
		}

		tx := transaction.New()
		dst, err := build.Run(ctx, tx, app.Gateway, v, candidates, app.DefaultConstraints(), app.DefaultPreferences(), opts)
		if err != nil {
			tx.Rollback()
			return err
		}
		cmd.Printf("built %s on %s\n", v.Hostname(), dst.Hostname())
		return nil
	},
}

func init() {
	flags := buildCmd.Flags()
	flags.StringVar(&buildLocalImage, "localimage", "", "path to a base image already present on the hypervisor, skipping download")
	flags.StringVar(&buildPostboot, "postboot", "", "path to a script to run once on first boot")
	flags.BoolVar(&buildNoPuppet, "nopuppet", false, "skip the Puppet bootstrap run")
	rootCmd.AddCommand(buildCmd)
}

// readOperatorKeys reads the invoking operator's own public keys out of
// ~/.ssh/authorized_keys, mirroring sshkeys.py's reliance on the caller's
// already-authorized keys rather than a freshly generated keypair.
func readOperatorKeys() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(home, ".ssh", "authorized_keys"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			keys = append(keys, line)
		}
	}
	return keys, nil
}
