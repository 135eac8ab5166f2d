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
	"testing"

	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/vm"
)

func newHV(attrs map[string]any) *hypervisor.Hypervisor {
	return hypervisor.New(inventory.NewRecord(attrs), nil)
}

func newVM(attrs map[string]any) *vm.VM {
	return vm.New(inventory.NewRecord(attrs), "", nil)
}

type fixedConstraint struct{ pass map[string]bool }

func (f fixedConstraint) Fulfilled(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (bool, error) {
	return f.pass[hv.Hostname()], nil
}

func TestFilterDropsFailingCandidates(t *testing.T) {
	candidates := []*hypervisor.Hypervisor{
		newHV(map[string]any{"hostname": "hv01"}),
		newHV(map[string]any{"hostname": "hv02"}),
		newHV(map[string]any{"hostname": "hv03"}),
	}
	constraints := []Constraint{fixedConstraint{pass: map[string]bool{"hv01": true, "hv02": false, "hv03": true}}}

	out, err := Filter(context.Background(), newVM(nil), candidates, constraints)
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(out))
	}
	for _, hv := range out {
		if hv.Hostname() == "hv02" {
			t.Fatal("hv02 should have been dropped")
		}
	}
}

type fixedPreference struct{ scores map[string]float64 }

func (f fixedPreference) Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (float64, bool, error) {
	return f.scores[hv.Hostname()], true, nil
}

func TestRankOrdersDescendingByAggregateScore(t *testing.T) {
	candidates := []*hypervisor.Hypervisor{
		newHV(map[string]any{"hostname": "hv01"}),
		newHV(map[string]any{"hostname": "hv02"}),
	}
	prefs := []Preference{fixedPreference{scores: map[string]float64{"hv01": 0.2, "hv02": 0.9}}}

	ranked, err := Rank(context.Background(), newVM(nil), candidates, prefs)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if ranked[0].Hypervisor.Hostname() != "hv02" {
		t.Fatalf("expected hv02 ranked first, got %s", ranked[0].Hypervisor.Hostname())
	}
}

func TestBestSkipsExcludedCandidates(t *testing.T) {
	ranked := []Ranked{
		{Hypervisor: newHV(map[string]any{"hostname": "hv01"}), Excluded: true},
		{Hypervisor: newHV(map[string]any{"hostname": "hv02"}), Score: 0.5},
	}
	best, ok := Best(ranked)
	if !ok || best.Hostname() != "hv02" {
		t.Fatalf("expected hv02 as best, got %v, ok=%v", best, ok)
	}
}

func TestMemoryConstraint(t *testing.T) {
	hv := newHV(map[string]any{"hostname": "hv01", "num_ram": int64(8192), "memory_used": int64(4096)})
	fits := newVM(map[string]any{"hostname": "web01", "memory": int64(2048)})
	tooBig := newVM(map[string]any{"hostname": "web02", "memory": int64(8192)})

	ok, err := (Memory{}).Fulfilled(context.Background(), fits, hv)
	if err != nil || !ok {
		t.Fatalf("expected small VM to fit, got ok=%v err=%v", ok, err)
	}
	ok, err = (Memory{}).Fulfilled(context.Background(), tooBig, hv)
	if err != nil || ok {
		t.Fatalf("expected oversized VM to be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestRouteNetworkConstraint(t *testing.T) {
	hv := newHV(map[string]any{"hostname": "hv01", "vlan_networks": []string{"rn1", "rn2"}})
	v := newVM(map[string]any{"hostname": "web01", "route_network": "rn2"})

	ok, err := (RouteNetwork{}).Fulfilled(context.Background(), v, hv)
	if err != nil || !ok {
		t.Fatalf("expected matching route network to pass, got ok=%v err=%v", ok, err)
	}
}

func TestKVMOnlyConstraint(t *testing.T) {
	kvm := newHV(map[string]any{"hostname": "hv01", "hypervisor": "kvm"})
	xen := newHV(map[string]any{"hostname": "hv02", "hypervisor": "xen"})
	v := newVM(nil)

	ok, err := (KVMOnly{}).Fulfilled(context.Background(), v, kvm)
	if err != nil || !ok {
		t.Fatalf("expected a kvm hypervisor to pass, got ok=%v err=%v", ok, err)
	}
	ok, err = (KVMOnly{}).Fulfilled(context.Background(), v, xen)
	if err != nil || ok {
		t.Fatalf("expected a xen hypervisor to be rejected, got ok=%v err=%v", ok, err)
	}
}

func TestHypervisorEnvironmentValuePreference(t *testing.T) {
	hv := newHV(map[string]any{"hostname": "hv01", "environment": "production"})
	v := newVM(map[string]any{"hostname": "web01", "environment": "production"})

	score, ok, err := (HypervisorEnvironmentValue{}).Score(context.Background(), v, hv)
	if err != nil || !ok || score != 1 {
		t.Fatalf("expected matching environment to score 1, got score=%v ok=%v err=%v", score, ok, err)
	}
}
