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

package selector

import (
	"context"

	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/vm"
)

// InsufficientResource scores a hypervisor by its normalized remaining
// capacity of one resource (e.g. memory) after the VM is placed: 1 means
// plenty of headroom, values near 0 mean the VM barely fits, and false
// means it does not fit at all. A freshly created hypervisor reporting a
// zero total for HVAttribute is excluded, mirroring "treat freshly
// created HVs always failing this check."
type InsufficientResource struct {
	HVAttribute string
	VMAttribute string
	Multiplier  int64
	Reserved    int64
	HostedVMs   HostedVMs
}

func (p InsufficientResource) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	total := hv.Record.GetInt(p.HVAttribute)
	if total == 0 {
		return 0, false, nil
	}

	hosted, err := p.HostedVMs(ctx, hv)
	if err != nil {
		return 0, false, err
	}
	var used int64
	for _, other := range hosted {
		used += other.Record.GetInt(p.VMAttribute) * max64(p.Multiplier, 1)
	}
	remaining := total - used - p.Reserved

	want := v.Record.GetInt(p.VMAttribute)
	if remaining < want {
		return 0, false, nil
	}
	return 1 - float64(want)/float64(remaining), true, nil
}

// OtherVMs penalizes placing the VM next to other VMs sharing the same
// attribute values, e.g. discouraging two database replicas of the same
// shard on one host. No shared VMs (or an empty hypervisor) scores a
// perfect 1; otherwise one minus the fraction of hosted VMs that match
// is scaled by 0.01 so the
// preference strongly discourages, without absolutely excluding, the
// co-location.
type OtherVMs struct {
	Attributes []string
	HostedVMs  HostedVMs
}

func (p OtherVMs) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	hosted, err := p.HostedVMs(ctx, hv)
	if err != nil {
		return 0, false, err
	}
	if len(hosted) == 0 {
		return 1, true, nil
	}

	similar := 0
	for _, other := range hosted {
		if other.Hostname() == v.Hostname() {
			continue
		}
		match := true
		for _, attr := range p.Attributes {
			if other.Record.GetString(attr) != v.Record.GetString(attr) {
				match = false
				break
			}
		}
		if match {
			similar++
		}
	}
	if similar == 0 {
		return 1, true, nil
	}
	return (1 - float64(similar)/float64(len(hosted))) * 0.01, true, nil
}

// HypervisorAttributeValue scores a hypervisor directly by one of its
// numeric attributes, normalized into [0, 1] by Max. A missing attribute
// (None in the original) scores 0, treating brand-new hypervisors as the
// least-preferred by default rather than excluding them.
type HypervisorAttributeValue struct {
	Attribute string
	Max       float64
}

func (p HypervisorAttributeValue) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	val, ok := hv.Record.Get(p.Attribute)
	if !ok || p.Max <= 0 {
		return 0, true, nil
	}
	n := hv.Record.GetInt(p.Attribute)
	_ = val
	score := float64(n) / p.Max
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, true, nil
}

// HypervisorAttributeValueLimit excludes a hypervisor outright once its
// attribute value reaches Limit, otherwise scores it by remaining
// headroom under that limit.
type HypervisorAttributeValueLimit struct {
	Attribute string
	Limit     int64
}

func (p HypervisorAttributeValueLimit) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	n := hv.Record.GetInt(p.Attribute)
	if n >= p.Limit {
		return 0, false, nil
	}
	if p.Limit == 0 {
		return 1, true, nil
	}
	return 1 - float64(n)/float64(p.Limit), true, nil
}

// HypervisorCpuUsageLimit makes a hypervisor less attractive, without
// excluding it, the closer its CPU usage (including this VM's own
// predicted contribution) gets to the per-hardware-model threshold.
type HypervisorCpuUsageLimit struct {
	ThresholdsByHWModel map[string]float64
	DefaultThreshold    float64
}

func (p HypervisorCpuUsageLimit) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	usage, err := hv.EstimateCPUUsage(ctx, v)
	if err != nil {
		return 0, false, err
	}
	threshold, ok := p.ThresholdsByHWModel[hv.Record.GetString("hardware_model")]
	if !ok {
		threshold = p.DefaultThreshold
	}
	if threshold <= 0 {
		return 1, true, nil
	}
	score := 1 - usage/100/threshold
	if score < 0 {
		score = 0
	}
	return score, true, nil
}

// HypervisorEnvironmentValue scores 1 when hv's environment matches the
// VM's own, 0 otherwise — a soft nudge, not an exclusion, since a
// cross-environment placement may still be the only option.
type HypervisorEnvironmentValue struct{}

func (HypervisorEnvironmentValue) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	if hv.Record.GetString("environment") == v.Record.GetString("environment") {
		return 1, true, nil
	}
	return 0, true, nil
}

// OverAllocation penalizes a hypervisor whose already-committed vCPU
// count (summed across its current VMs) exceeds its own physical vCPU
// count, i.e. it is already overbooked.
type OverAllocation struct {
	HostedVMs HostedVMs
}

func (p OverAllocation) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	hosted, err := p.HostedVMs(ctx, hv)
	if err != nil {
		return 0, false, err
	}
	var committed int64
	for _, other := range hosted {
		committed += other.Record.GetInt("num_cpu")
	}
	physical := hv.Record.GetInt("num_cpu")
	if physical == 0 {
		return 0, true, nil
	}
	ratio := float64(committed) / float64(physical)
	if ratio > 1 {
		return 0, true, nil
	}
	return 1 - ratio, true, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
