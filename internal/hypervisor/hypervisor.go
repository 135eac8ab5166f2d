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

// Package hypervisor models one libvirt host: its inventory record, a
// lazily opened libvirt connection, and the ephemeral per-VM disk/mount
// path maps the teacher's node agent never needed (a node agent reconciles
// a single local host; igvm drives many hypervisors from one process, and
// a VM's disk and mount paths only make sense for the duration of one
// pipeline run, so they live here rather than on the VM object itself).
package hypervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/innogames/igvm/internal/domainxml"
	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/libvirt"
	"github.com/innogames/igvm/internal/storage"
	"github.com/innogames/igvm/internal/transport"
	"github.com/innogames/igvm/internal/vm"
)

// hostReserveMiB is the memory withheld from placement so the host kernel
// and libvirtd keep headroom, mirroring the 2 GiB host reserve spec.md
// calls for.
const hostReserveMiB = 2048

// lockTimeout is how long an igvm_locked timestamp is honored before the
// next cleaner treats it as abandoned.
const lockTimeout = 2 * time.Hour

// Hypervisor wraps one inventory record for a libvirt host.
type Hypervisor struct {
	Record *inventory.Record
	Exec   transport.Executor

	conn *libvirt.Connection

	diskPath  map[string]string
	mountPath map[string]string
}

// New wraps rec, using exec to reach the hypervisor itself (LVM commands,
// mount/umount, SSH to guests during build).
func New(rec *inventory.Record, exec transport.Executor) *Hypervisor {
	return &Hypervisor{
		Record:    rec,
		Exec:      exec,
		diskPath:  map[string]string{},
		mountPath: map[string]string{},
	}
}

func (h *Hypervisor) Hostname() string { return h.Record.GetString("hostname") }

// connection lazily opens the libvirt RPC connection, matching the
// teacher's Connection type's own laziness (dial on first use, not on
// construction).
func (h *Hypervisor) connection() *libvirt.Connection {
	if h.conn == nil {
		h.conn = libvirt.NewConnection(h.Hostname(), "root")
	}
	return h.conn
}

// ErrXenUnsupported is returned by any operation that would need a live
// libvirt connection to a legacy Xen host. Xen hosts are still valid
// inventory objects (so they show up in listings and diagnostics) but
// this implementation never dials one, per the decision to drop legacy
// Xen code paths rather than port them.
var ErrXenUnsupported = errors.New("legacy Xen hypervisors are not supported by this implementation")

func (h *Hypervisor) raw(ctx context.Context) (*golibvirt.Libvirt, error) {
	if kind := h.Record.GetString("hypervisor"); kind != "" && kind != "kvm" {
		return nil, ErrXenUnsupported
	}
	return h.connection().Raw(ctx)
}

// Raw exposes the underlying libvirt RPC connection for callers (the
// migration pipeline's online branch, chiefly) that need to issue calls
// this type does not wrap directly.
func (h *Hypervisor) Raw(ctx context.Context) (*golibvirt.Libvirt, error) {
	return h.raw(ctx)
}

// DiskPath resolves v's logical volume device path, caching it the same
// way CreateVMStorage does. Unlike CreateVMStorage this does not create
// anything: it is for resize and destroy operations against an already-built VM,
// where the LV predates this process and must be found by name and
// confirmed against the inventory-recorded size.
func (h *Hypervisor) DiskPath(ctx context.Context, v *vm.VM) (string, error) {
	if path, ok := h.diskPath[v.Hostname()]; ok {
		return path, nil
	}
	sizeGiB := v.Record.GetInt("disk_size_gib")
	lv, err := storage.ResolveVolume(ctx, h.Exec, h.Hostname(), v.Hostname(), sizeGiB)
	if err != nil {
		return "", igvmerr.Storage("resolve_vm_storage", err)
	}
	h.diskPath[v.Hostname()] = lv.Path
	return lv.Path, nil
}

// ResizeDisk grows v's logical volume to newSizeGiB, rejecting a shrink.
func (h *Hypervisor) ResizeDisk(ctx context.Context, v *vm.VM, newSizeGiB int64) error {
	path, err := h.DiskPath(ctx, v)
	if err != nil {
		return err
	}
	if newSizeGiB <= v.Record.GetInt("disk_size_gib") {
		return igvmerr.InvalidState("resize_disk", fmt.Errorf(
			"refusing to shrink %s from %d GiB to %d GiB", v.Hostname(), v.Record.GetInt("disk_size_gib"), newSizeGiB))
	}
	if err := storage.ResizeLogicalVolume(ctx, h.Exec, h.Hostname(), path, newSizeGiB); err != nil {
		return igvmerr.Storage("resize_disk", err)
	}
	return nil
}

// SetVCPUsLive re-pins and grows/shrinks v's vCPU count on a running
// domain, reusing component H's live-reconfiguration primitive with this
// hypervisor doubling as both source and destination (the domain never
// moves, so srcNumCPU == dstNumCPU).
func (h *Hypervisor) SetVCPUsLive(ctx context.Context, v *vm.VM, n int64) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("set_vcpus", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("set_vcpus", err)
	}
	hvNumCPU := h.Record.GetInt("num_cpu")
	maxCPUs := domainxml.VCPUCount(n, hvNumCPU)
	numNodes := h.Record.GetInt("num_numa_nodes")
	if numNodes < 1 {
		numNodes = 1
	}
	return domainxml.SetVCPUs(ctx, virt, domain, n, maxCPUs, numNodes, hvNumCPU, hvNumCPU)
}

// SetMemoryLive applies a live memory increase to v's running domain,
// balloon first, DIMM hotplug as the fallback, per component H's
// SetMemory contract.
func (h *Hypervisor) SetMemoryLive(ctx context.Context, v *vm.VM, currentMiB, newMiB int64, hasBalloon bool) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("set_memory", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("set_memory", err)
	}
	numNodes := h.Record.GetInt("num_numa_nodes")
	if numNodes < 1 {
		numNodes = 1
	}
	return domainxml.SetMemory(ctx, virt, domain, currentMiB, newMiB, numNodes, hasBalloon)
}

// Redefine undefines and redefines v with a freshly synthesized domain
// XML, for an offline resize that must change values (memory, vcpu
// count) baked into the domain's persistent configuration. v must
// already be stopped.
func (h *Hypervisor) Redefine(ctx context.Context, v *vm.VM) error {
	path, err := h.DiskPath(ctx, v)
	if err != nil {
		return err
	}
	spec := domainxml.Spec{
		ObjectID:  v.Record.GetInt("object_id"),
		Hostname:  v.Hostname(),
		UUID:      v.Record.GetString("uuid"),
		MemoryMiB: v.Record.GetInt("memory"),
		MaxMemMiB: h.Record.GetInt("num_ram"),
		VMNumCPU:  v.Record.GetInt("num_cpu"),
		HVNumCPU:  h.Record.GetInt("num_cpu"),
		HWModel:   h.Record.GetString("hardware_model"),
		VLANTag:   v.Record.GetInt("vlan"),
		DiskPath:  path,
	}
	domainXML, err := domainxml.BuildDomainXML(spec)
	if err != nil {
		return err
	}
	if err := h.UndefineVM(ctx, v); err != nil {
		return err
	}
	return h.DefineVM(ctx, domainXML)
}

// vlanForVM returns the VLAN tag this hypervisor should use for vm, or -1
// for untagged, mirroring hypervisor.py's vlan_for_vm.
func (h *Hypervisor) vlanForVM(v *vm.VM) (int64, error) {
	hvVLANs := h.Record.GetStringSet("network_vlans")
	vmVLAN := v.Record.GetInt("vlan")

	if len(hvVLANs) == 0 {
		if h.Record.GetInt("vlan") != vmVLAN {
			return 0, igvmerr.Hypervisor("vlan_for_vm", fmt.Errorf(
				"hypervisor %s is not on the same VLAN as VM %s", h.Hostname(), v.Hostname()))
		}
		return -1, nil
	}

	for _, raw := range hvVLANs {
		if raw == fmt.Sprint(vmVLAN) {
			return vmVLAN, nil
		}
	}
	return 0, igvmerr.Hypervisor("vlan_for_vm", fmt.Errorf(
		"hypervisor %s does not support VLAN %d", h.Hostname(), vmVLAN))
}

// CheckVM checks that this hypervisor can host v: matching VLAN, enough
// memory after the host reserve, enough CPUs, and not already defined.
// Free disk space is not checked here.
func (h *Hypervisor) CheckVM(ctx context.Context, v *vm.VM) error {
	if _, err := h.vlanForVM(v); err != nil {
		return err
	}

	availMemMiB := h.Record.GetInt("num_ram") - hostReserveMiB
	wantMemMiB := v.Record.GetInt("memory")
	if wantMemMiB > availMemMiB {
		return igvmerr.Hypervisor("check_vm", fmt.Errorf(
			"hypervisor %s has %d MiB free after reserve, VM %s wants %d MiB",
			h.Hostname(), availMemMiB, v.Hostname(), wantMemMiB))
	}

	if v.Record.GetInt("num_cpu") > h.Record.GetInt("num_cpu") {
		return igvmerr.Hypervisor("check_vm", fmt.Errorf(
			"hypervisor %s does not have %d CPUs for VM %s",
			h.Hostname(), v.Record.GetInt("num_cpu"), v.Hostname()))
	}

	defined, err := h.VMDefined(ctx, v)
	if err != nil {
		return err
	}
	if defined {
		return igvmerr.InvalidState("check_vm", fmt.Errorf("VM %s is already defined on %s", v.Hostname(), h.Hostname()))
	}
	return nil
}

// CheckMigration checks that v can be migrated from h to dst, online or
// offline, mirroring hypervisor.py's check_migration plus KVMHypervisor's
// VLAN-match override for the online case.
func (h *Hypervisor) CheckMigration(ctx context.Context, v *vm.VM, dst *Hypervisor, offline bool) error {
	if h.Hostname() == dst.Hostname() {
		return igvmerr.InvalidState("check_migration", fmt.Errorf(
			"source and destination hypervisor are the same machine %s", h.Hostname()))
	}

	if !offline {
		srcHyp := h.Record.GetString("hypervisor")
		dstHyp := dst.Record.GetString("hypervisor")
		if srcHyp != dstHyp {
			return igvmerr.InvalidState("check_migration", fmt.Errorf(
				"online migration between different hypervisor technologies is not supported"))
		}

		srcVLAN, err := h.vlanForVM(v)
		if err != nil {
			return err
		}
		dstVLAN, err := dst.vlanForVM(v)
		if err != nil {
			return err
		}
		if srcVLAN != dstVLAN {
			return igvmerr.InvalidState("check_migration", fmt.Errorf(
				"online migration is not possible with the current network configuration (different VLAN)"))
		}
	}
	return nil
}

// CreateVMStorage allocates a new logical volume for v and returns its
// device path. Idempotent per process: repeated calls return the
// previously allocated path.
func (h *Hypervisor) CreateVMStorage(ctx context.Context, v *vm.VM) (string, error) {
	if path, ok := h.diskPath[v.Hostname()]; ok {
		return path, nil
	}
	sizeGiB := v.Record.GetInt("disk_size_gib")
	path, err := storage.CreateLogicalVolume(ctx, h.Exec, h.Hostname(), v.Hostname(), sizeGiB)
	if err != nil {
		return "", igvmerr.Storage("create_vm_storage", err)
	}
	h.diskPath[v.Hostname()] = path
	return path, nil
}

// FormatVMStorage formats v's disk with XFS and mounts it, refusing to do
// so while v is already defined.
func (h *Hypervisor) FormatVMStorage(ctx context.Context, v *vm.VM) (string, error) {
	defined, err := h.VMDefined(ctx, v)
	if err != nil {
		return "", err
	}
	if defined {
		return "", igvmerr.InvalidState("format_vm_storage", fmt.Errorf(
			"refusing to format storage of defined VM %s", v.Hostname()))
	}

	path, ok := h.diskPath[v.Hostname()]
	if !ok {
		return "", igvmerr.InvalidState("format_vm_storage", fmt.Errorf("VM %s has no disk allocated yet", v.Hostname()))
	}
	if err := storage.FormatXFS(ctx, h.Exec, h.Hostname(), path, false); err != nil {
		return "", igvmerr.Storage("format_vm_storage", err)
	}
	return h.MountVMStorage(ctx, v)
}

// MountVMStorage mounts v's already-formatted disk, refusing to do so
// while v is defined and running.
func (h *Hypervisor) MountVMStorage(ctx context.Context, v *vm.VM) (string, error) {
	if path, ok := h.mountPath[v.Hostname()]; ok {
		return path, nil
	}

	defined, err := h.VMDefined(ctx, v)
	if err != nil {
		return "", err
	}
	if defined {
		running, err := h.VMRunning(ctx, v)
		if err != nil {
			return "", err
		}
		if running {
			return "", igvmerr.InvalidState("mount_vm_storage", fmt.Errorf(
				"refusing to mount VM filesystem of %s while it is powered on", v.Hostname()))
		}
	}

	disk, ok := h.diskPath[v.Hostname()]
	if !ok {
		return "", igvmerr.InvalidState("mount_vm_storage", fmt.Errorf("VM %s has no disk allocated yet", v.Hostname()))
	}
	path, err := storage.MountTemp(ctx, h.Exec, h.Hostname(), disk, "-"+v.Hostname())
	if err != nil {
		return "", igvmerr.Storage("mount_vm_storage", err)
	}
	h.mountPath[v.Hostname()] = path
	v.Mount(path)
	return path, nil
}

// UmountVMStorage unmounts and removes v's mount point, a no-op if it was
// never mounted.
func (h *Hypervisor) UmountVMStorage(ctx context.Context, v *vm.VM) error {
	path, ok := h.mountPath[v.Hostname()]
	if !ok {
		return nil
	}
	if err := storage.UmountTemp(ctx, h.Exec, h.Hostname(), path); err != nil {
		return igvmerr.Storage("umount_vm_storage", err)
	}
	if err := storage.RemoveTemp(ctx, h.Exec, h.Hostname(), path); err != nil {
		return igvmerr.Storage("umount_vm_storage", err)
	}
	delete(h.mountPath, v.Hostname())
	v.Unmount()
	return nil
}

// DestroyVMStorage removes v's logical volume, refusing to do so while v
// is still defined.
func (h *Hypervisor) DestroyVMStorage(ctx context.Context, v *vm.VM) error {
	defined, err := h.VMDefined(ctx, v)
	if err != nil {
		return err
	}
	if defined {
		return igvmerr.InvalidState("destroy_vm_storage", fmt.Errorf(
			"refusing to delete storage of defined VM %s", v.Hostname()))
	}

	path, err := h.DiskPath(ctx, v)
	if err != nil {
		return err
	}
	if err := storage.RemoveLogicalVolume(ctx, h.Exec, h.Hostname(), path); err != nil {
		return igvmerr.Storage("destroy_vm_storage", err)
	}
	delete(h.diskPath, v.Hostname())
	return nil
}

// DefineVM defines domainXML on this hypervisor and refreshes every
// storage pool so the new volume is registered, mirroring
// KVMHypervisor.create_vm.
func (h *Hypervisor) DefineVM(ctx context.Context, domainXML string) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("define_vm", err)
	}
	if _, err := virt.DomainDefineXML(domainXML); err != nil {
		return igvmerr.Hypervisor("define_vm", err)
	}

	pools, _, err := virt.ConnectListAllStoragePools(1, 0)
	if err != nil {
		return igvmerr.Hypervisor("define_vm", fmt.Errorf("list storage pools: %w", err))
	}
	for _, pool := range pools {
		if err := virt.StoragePoolRefresh(pool, 0); err != nil {
			return igvmerr.Hypervisor("define_vm", fmt.Errorf("refresh pool %s: %w", pool.Name, err))
		}
	}
	return nil
}

func (h *Hypervisor) lookupDomain(ctx context.Context, name string) (golibvirt.Domain, error) {
	virt, err := h.raw(ctx)
	if err != nil {
		return golibvirt.Domain{}, err
	}
	return virt.DomainLookupByName(name)
}

// StartVM powers v on.
func (h *Hypervisor) StartVM(ctx context.Context, v *vm.VM) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("start_vm", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("start_vm", err)
	}
	if err := virt.DomainCreate(domain); err != nil {
		return igvmerr.Hypervisor("start_vm", err)
	}
	return nil
}

// StopVM shuts v down gracefully (ACPI).
func (h *Hypervisor) StopVM(ctx context.Context, v *vm.VM) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("stop_vm", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("stop_vm", err)
	}
	if err := virt.DomainShutdown(domain); err != nil {
		return igvmerr.Hypervisor("stop_vm", err)
	}
	return nil
}

// StopVMForce powers v off immediately (destroy).
func (h *Hypervisor) StopVMForce(ctx context.Context, v *vm.VM) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("stop_vm_force", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("stop_vm_force", err)
	}
	if err := virt.DomainDestroy(domain); err != nil {
		return igvmerr.Hypervisor("stop_vm_force", err)
	}
	return nil
}

// UndefineVM removes v's domain definition (not its storage).
func (h *Hypervisor) UndefineVM(ctx context.Context, v *vm.VM) error {
	virt, err := h.raw(ctx)
	if err != nil {
		return igvmerr.Hypervisor("undefine_vm", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return igvmerr.Hypervisor("undefine_vm", err)
	}
	if err := virt.DomainUndefine(domain); err != nil {
		return igvmerr.Hypervisor("undefine_vm", err)
	}
	return nil
}

// VMDefined reports whether v has a domain definition on this hypervisor.
// Deliberately avoids lookupByName, which logs a libvirt error to the
// console on miss, by listing all domains instead.
func (h *Hypervisor) VMDefined(ctx context.Context, v *vm.VM) (bool, error) {
	virt, err := h.raw(ctx)
	if err != nil {
		return false, igvmerr.Hypervisor("vm_defined", err)
	}
	domains, _, err := virt.ConnectListAllDomains(1,
		golibvirt.ConnectListDomainsActive|golibvirt.ConnectListDomainsInactive)
	if err != nil {
		return false, igvmerr.Hypervisor("vm_defined", err)
	}
	for _, d := range domains {
		if d.Name == v.Hostname() {
			return true, nil
		}
	}
	return false, nil
}

// VMRunning reports whether v's domain is currently active.
func (h *Hypervisor) VMRunning(ctx context.Context, v *vm.VM) (bool, error) {
	virt, err := h.raw(ctx)
	if err != nil {
		return false, igvmerr.Hypervisor("vm_running", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return false, nil
	}
	active, err := virt.DomainIsActive(domain)
	if err != nil {
		return false, igvmerr.Hypervisor("vm_running", err)
	}
	return active == 1, nil
}

// SyncedState is the authoritative subset of a running domain's
// configuration, read back to compare against inventory.
type SyncedState struct {
	MemoryMiB int64
	NumCPU    int64
}

// VMSyncFromHypervisor reads v's authoritative memory and vCPU count
// straight from the running domain.
func (h *Hypervisor) VMSyncFromHypervisor(ctx context.Context, v *vm.VM) (SyncedState, error) {
	virt, err := h.raw(ctx)
	if err != nil {
		return SyncedState{}, igvmerr.Hypervisor("vm_sync_from_hypervisor", err)
	}
	domain, err := h.lookupDomain(ctx, v.Hostname())
	if err != nil {
		return SyncedState{}, igvmerr.Hypervisor("vm_sync_from_hypervisor", err)
	}
	_, _, mem, nrVirtCPU, _, err := virt.DomainGetInfo(domain)
	if err != nil {
		return SyncedState{}, igvmerr.Hypervisor("vm_sync_from_hypervisor", err)
	}
	return SyncedState{MemoryMiB: int64(mem / 1024), NumCPU: int64(nrVirtCPU)}, nil
}

// EstimateCPUUsage counts the vCPUs of every active domain on this
// hypervisor plus v's, as a percentage of the host's CPU count, mirroring
// estimate_cpu_usage's role in the selector's capacity preference.
func (h *Hypervisor) EstimateCPUUsage(ctx context.Context, v *vm.VM) (float64, error) {
	virt, err := h.raw(ctx)
	if err != nil {
		return 0, igvmerr.Hypervisor("estimate_cpu_usage", err)
	}
	domains, _, err := virt.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive)
	if err != nil {
		return 0, igvmerr.Hypervisor("estimate_cpu_usage", err)
	}

	var totalVCPUs int64
	for _, d := range domains {
		_, _, _, nrVirtCPU, _, err := virt.DomainGetInfo(d)
		if err != nil {
			continue
		}
		totalVCPUs += int64(nrVirtCPU)
	}
	totalVCPUs += v.Record.GetInt("num_cpu")

	hostCPUs := h.Record.GetInt("num_cpu")
	if hostCPUs == 0 {
		return 0, igvmerr.Hypervisor("estimate_cpu_usage", fmt.Errorf("hypervisor %s reports 0 CPUs", h.Hostname()))
	}
	return float64(totalVCPUs) / float64(hostCPUs) * 100, nil
}

// AcquireLock writes the current time to the igvm_locked attribute. The
// caller is responsible for committing the record through the inventory
// gateway.
func (h *Hypervisor) AcquireLock() {
	h.Record.Set("igvm_locked", time.Now().UTC().Format(time.RFC3339))
}

// ReleaseLock clears igvm_locked. The caller commits the record.
func (h *Hypervisor) ReleaseLock() {
	h.Record.Set("igvm_locked", "")
}

// LockAbandoned reports whether the hypervisor's current lock, if any, is
// older than lockTimeout and should be reclaimed by a cleaner.
func (h *Hypervisor) LockAbandoned(now time.Time) bool {
	raw := h.Record.GetString("igvm_locked")
	if raw == "" {
		return false
	}
	lockedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return now.Sub(lockedAt) > lockTimeout
}
