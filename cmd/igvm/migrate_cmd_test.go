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
	"testing"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/vm"
)

// resolveMigrationTarget's explicit-destination branch never touches the
// selector pipeline, so it is safe to exercise without a live libvirt
// connection; the auto-select branch is left to integration testing since
// HypervisorMaxVcpuUsage dials the real hypervisor.
func TestResolveMigrationTargetExplicit(t *testing.T) {
	gw := &inventory.GatewayMock{
		GetFunc: func(ctx context.Context, kind, hostname string) (*inventory.Record, error) {
			if kind != inventory.KindHypervisor || hostname != "hv02" {
				t.Fatalf("unexpected lookup: kind=%s hostname=%s", kind, hostname)
			}
			return inventory.NewRecord(map[string]any{"hostname": "hv02"}), nil
		},
	}
	oldApp := app
	app = &cliapp.App{Gateway: gw}
	defer func() { app = oldApp }()

	src := hypervisor.New(inventory.NewRecord(map[string]any{"hostname": "hv01"}), nil)
	v := vm.New(inventory.NewRecord(map[string]any{"hostname": "web01"}), "hv01", nil)

	dst, err := resolveMigrationTarget(context.Background(), []string{"web01", "hv02"}, v, src)
	if err != nil {
		t.Fatalf("resolveMigrationTarget: %v", err)
	}
	if dst.Hostname() != "hv02" {
		t.Fatalf("got %s, want hv02", dst.Hostname())
	}
}
