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

package hypervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/vm"
)

func newTestHV(attrs map[string]any) *Hypervisor {
	return New(inventory.NewRecord(attrs), nil)
}

func newTestVM(attrs map[string]any) *vm.VM {
	return vm.New(inventory.NewRecord(attrs), "", nil)
}

func TestVLANForVMUntagged(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01", "vlan": int64(7)})
	v := newTestVM(map[string]any{"hostname": "web01", "vlan": int64(7)})

	vlan, err := hv.vlanForVM(v)
	if err != nil {
		t.Fatalf("vlanForVM: %v", err)
	}
	if vlan != -1 {
		t.Fatalf("expected untagged (-1), got %d", vlan)
	}
}

func TestVLANForVMUntaggedMismatch(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01", "vlan": int64(7)})
	v := newTestVM(map[string]any{"hostname": "web01", "vlan": int64(9)})

	if _, err := hv.vlanForVM(v); err == nil {
		t.Fatal("expected an error for mismatched untagged VLAN")
	}
}

func TestVLANForVMTagged(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01", "network_vlans": []string{"5", "9"}})
	v := newTestVM(map[string]any{"hostname": "web01", "vlan": int64(9)})

	vlan, err := hv.vlanForVM(v)
	if err != nil {
		t.Fatalf("vlanForVM: %v", err)
	}
	if vlan != 9 {
		t.Fatalf("expected VLAN 9, got %d", vlan)
	}
}

func TestVLANForVMTaggedUnsupported(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01", "network_vlans": []string{"5"}})
	v := newTestVM(map[string]any{"hostname": "web01", "vlan": int64(9)})

	if _, err := hv.vlanForVM(v); err == nil {
		t.Fatal("expected an error for unsupported VLAN")
	}
}

func TestLockAbandoned(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01"})
	if hv.LockAbandoned(time.Now()) {
		t.Fatal("no lock set, should not be considered abandoned")
	}

	hv.AcquireLock()
	if hv.LockAbandoned(time.Now()) {
		t.Fatal("freshly acquired lock should not be abandoned")
	}
	if !hv.LockAbandoned(time.Now().Add(3 * time.Hour)) {
		t.Fatal("lock older than the timeout should be abandoned")
	}

	hv.ReleaseLock()
	if hv.LockAbandoned(time.Now().Add(3 * time.Hour)) {
		t.Fatal("released lock should never be abandoned")
	}
}

func TestRawRefusesLegacyXenHypervisor(t *testing.T) {
	hv := newTestHV(map[string]any{"hostname": "hv01", "hypervisor": "xen"})

	_, err := hv.raw(context.Background())
	if !errors.Is(err, ErrXenUnsupported) {
		t.Fatalf("expected ErrXenUnsupported, got %v", err)
	}
}

