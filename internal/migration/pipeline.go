/*
SPDX-FileCopyrightText: Copyright 2025 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
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

package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/go-logr/logr"

	"github.com/innogames/igvm/internal/domainxml"
	"github.com/innogames/igvm/internal/drbd"
	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/retry"
	"github.com/innogames/igvm/internal/storage"
	"github.com/innogames/igvm/internal/transaction"
	"github.com/innogames/igvm/internal/vm"
)

// Options configures one migration run, mirroring the `migrate` CLI
// subcommand's flags from spec.md §6.
type Options struct {
	Offline        bool
	RunPuppet      bool
	NewIP          string
	PuppetCAHost   string
	OperatorKeys   []string
	DNSServers     []string
	Netmask        string
	Gateway        string

	// Transport picks the offline disk-copy mechanism: "drbd" (the
	// default, matching `--offline-transport`'s own default) or
	// "netcat". DRBD leaves a resumable, checksummed replica in place
	// until sync completes; netcat is the simpler raw pipe.
	Transport string
}

// CheckPreconditions re-reads the hypervisor-observed memory/vcpu values
// for v and rejects a stale inventory record, then runs the destination's
// check_vm and both sides' check_migration, mirroring spec.md §4.J's
// precondition list.
func CheckPreconditions(ctx context.Context, src, dst *hypervisor.Hypervisor, v *vm.VM, offline bool) error {
	synced, err := src.VMSyncFromHypervisor(ctx, v)
	if err != nil {
		return err
	}
	if synced.MemoryMiB != v.Record.GetInt("memory") || synced.NumCPU != v.Record.GetInt("num_cpu") {
		return igvmerr.InconsistentAttribute("check_preconditions", fmt.Errorf(
			"inventory out of sync with hypervisor: inventory mem=%d cpu=%d, live mem=%d cpu=%d",
			v.Record.GetInt("memory"), v.Record.GetInt("num_cpu"), synced.MemoryMiB, synced.NumCPU))
	}
	if err := dst.CheckVM(ctx, v); err != nil {
		return err
	}
	if err := src.CheckMigration(ctx, v, dst, offline); err != nil {
		return err
	}
	return nil
}

// Offline drives the offline migration branch: maintenance state, a
// graceful VM shutdown, a disk copy from src to dst (DRBD by default,
// or netcat when opts.Transport is "netcat"), optional in-chroot puppet
// re-run on the destination (required whenever the IP changes),
// define+start on dst, an inventory commit pointing `xen_host` at dst,
// and finally undefine+remove the source LV. No SSH reachability check
// is made against the started destination VM.
// Every mutating step registers its own rollback; a checkpoint after the
// inventory commit means a failure tearing down the source no longer
// unwinds the already-completed move.
func Offline(ctx context.Context, tx *transaction.Transaction, gw inventory.Gateway, src, dst *hypervisor.Hypervisor, v *vm.VM, opts Options) error {
	logger := log.FromContext(ctx, "migration", "offline", "vm", v.Hostname())
	v.SetHVHost(dst.Hostname())

	previousState := v.Record.GetString("state")
	v.Record.Set("state", "maintenance")
	tx.OnRollback("restore_state", func() error {
		v.Record.Set("state", previousState)
		return nil
	})

	running, err := src.VMRunning(ctx, v)
	if err != nil {
		return err
	}
	if running {
		if err := src.StopVM(ctx, v); err != nil {
			return err
		}
		if err := waitForShutdown(ctx, src, v); err != nil {
			return err
		}
	}

	srcPath, err := src.CreateVMStorage(ctx, v)
	if err != nil {
		return err
	}
	sizeGiB := v.Record.GetQuantity("disk_size").Value() / (1 << 30)

	dstPath, err := dst.CreateVMStorage(ctx, v)
	if err != nil {
		return err
	}
	tx.OnRollback("remove_dst_storage", func() error { return dst.DestroyVMStorage(ctx, v) })

	if opts.Transport == "netcat" {
		port, err := storage.ListenForDisk(ctx, dst.Exec, dst.Hostname(), dstPath)
		if err != nil {
			return err
		}
		logger.Info("listening for disk copy", "port", port)
		if err := storage.SendDisk(ctx, src.Exec, src.Hostname(), srcPath, sizeGiB<<30, dst.Hostname(), port); err != nil {
			return igvmerr.Storage("offline_disk_copy", err)
		}
	} else {
		if err := replicateDiskViaDRBD(ctx, tx, logger, src, dst, v, srcPath, dstPath); err != nil {
			return igvmerr.Storage("offline_disk_copy", err)
		}
	}

	mountPath, err := dst.MountVMStorage(ctx, v)
	if err != nil {
		return err
	}
	tx.OnRollback("umount_dst_storage", func() error { return dst.UmountVMStorage(ctx, v) })
	_ = mountPath

	if opts.NewIP != "" {
		v.Record.Set("intern_ip", opts.NewIP)
	}
	if opts.RunPuppet || opts.NewIP != "" {
		if err := v.RunPuppet(ctx, opts.PuppetCAHost, true); err != nil {
			return err
		}
	}
	if err := dst.UmountVMStorage(ctx, v); err != nil {
		return err
	}

	domainXML, err := buildDomainXMLFor(v, dst, dstPath)
	if err != nil {
		return err
	}
	if err := dst.DefineVM(ctx, domainXML); err != nil {
		return err
	}
	tx.OnRollback("undefine_dst", func() error { return dst.UndefineVM(ctx, v) })

	if err := dst.StartVM(ctx, v); err != nil {
		return err
	}
	tx.OnRollback("stop_dst", func() error { return dst.StopVMForce(ctx, v) })

	v.Record.Set("hypervisor", dst.Hostname())
	v.Record.Set("xen_host", dst.Hostname())
	v.Record.Set("state", previousState)
	if err := gw.Commit(ctx, "vm", v.Record); err != nil {
		return igvmerr.Config("commit_inventory", err)
	}
	tx.Checkpoint()

	if err := src.StopVM(ctx, v); err != nil {
		logger.Error(err, "failed to stop source VM after successful migration, leaving it defined")
	}
	if err := src.UndefineVM(ctx, v); err != nil {
		logger.Error(err, "failed to undefine source VM after successful migration")
	}
	if err := src.DestroyVMStorage(ctx, v); err != nil {
		logger.Error(err, "failed to remove source storage after successful migration")
	}
	return nil
}

// Online drives the KVM-to-KVM live migration branch: libvirt copies
// disk and memory over the wire using the flag bundle and destination
// URI from component H, while a background goroutine polls the job stats
// every second via Watch and hands each Progress to report; on success
// vCPUs are re-pinned on
// the destination (it may have more physical cores available) before the
// inventory commit and source undefine.
func Online(ctx context.Context, tx *transaction.Transaction, gw inventory.Gateway, src, dst *hypervisor.Hypervisor, v *vm.VM, srcVirt, dstVirt *golibvirt.Libvirt, report func(Progress)) error {
	logger := log.FromContext(ctx, "migration", "online", "vm", v.Hostname())

	domainName := fmt.Sprintf("%d_%s", v.Record.GetInt("object_id"), v.Hostname())
	domain, err := srcVirt.DomainLookupByName(domainName)
	if err != nil {
		return igvmerr.Hypervisor("lookup_source_domain", err)
	}

	destURI := domainxml.MigrationURI(dst.Hostname(), "default")
	flags := domainxml.MigrationFlags()

	done := make(chan error, 1)
	go func() {
		done <- domainxml.LiveMigrate(ctx, srcVirt, domain, destURI, flags)
	}()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := Watch(watchCtx, srcVirt, domain, report); err != nil && err != Finished {
			logger.Error(err, "migration watch loop ended with an error")
		}
	}()

	select {
	case <-ctx.Done():
		if abortErr := domainxml.AbortMigration(context.Background(), srcVirt, domain); abortErr != nil {
			logger.Error(abortErr, "failed to abort in-flight migration after cancellation")
		}
		<-done
		return igvmerr.MigrationAborted("online_migrate", ctx.Err())
	case err := <-done:
		if err != nil {
			return igvmerr.MigrationErr("online_migrate", err)
		}
	}

	dstNumCPU := dst.Record.GetInt("num_cpu")
	srcNumCPU := src.Record.GetInt("num_cpu")
	requestedCPU := v.Record.GetInt("num_cpu")
	maxCPUs := domainxml.VCPUCount(requestedCPU, dstNumCPU)

	dstDomain, err := dstVirt.DomainLookupByName(domainName)
	if err != nil {
		return igvmerr.Hypervisor("lookup_dest_domain", err)
	}
	numNodes := dst.Record.GetInt("num_numa_nodes")
	if numNodes < 1 {
		numNodes = 1
	}
	if err := domainxml.SetVCPUs(ctx, dstVirt, dstDomain, maxCPUs, maxCPUs, numNodes, srcNumCPU, dstNumCPU); err != nil {
		logger.Error(err, "failed to re-pin vcpus on destination after migration, leaving prior pinning in place")
	}

	v.Record.Set("hypervisor", dst.Hostname())
	v.Record.Set("xen_host", dst.Hostname())
	if err := gw.Commit(ctx, "vm", v.Record); err != nil {
		return igvmerr.Config("commit_inventory", err)
	}
	tx.Checkpoint()

	if err := srcVirt.DomainUndefine(domain); err != nil {
		logger.Error(err, "failed to undefine source domain after successful migration")
	}
	return nil
}

// waitForShutdown polls until v is no longer reported running on src,
// mirroring vm.shutdown's wait loop in the original tooling.
func waitForShutdown(ctx context.Context, src *hypervisor.Hypervisor, v *vm.VM) error {
	opts := retry.Options{Initial: time.Second, Max: 5 * time.Second, Budget: 2 * time.Minute}
	err := retry.Do(ctx, opts, func(ctx context.Context) error {
		running, err := src.VMRunning(ctx, v)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("%s is still running", v.Hostname())
		}
		return nil
	})
	if err != nil {
		return igvmerr.Timeout("wait_for_shutdown", err)
	}
	return nil
}

// splitDevicePath splits a `/dev/<vg>/<lv>` device path into its volume
// group and logical volume names, as required by component E's
// Replicator, which needs them as separate strings to render config and
// run lvm/dmsetup commands against.
func splitDevicePath(path string) (vgName, lvName string, err error) {
	trimmed := strings.TrimPrefix(path, "/dev/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("not a /dev/<vg>/<lv> path: %s", path)
	}
	return parts[0], parts[1], nil
}

// replicateDiskViaDRBD copies srcPath's content onto dstPath using
// component E, master on src and slave on dst, tearing both sides down
// once in sync and leaving dst with a plain, populated LV. Used as the
// `--offline-transport drbd` disk-copy mechanism; the VM is already
// stopped by the time this runs, so the master-side suspend/resume
// dance that makes this safe to use against a live LV is simply a no-op
// precaution here.
func replicateDiskViaDRBD(ctx context.Context, tx *transaction.Transaction, logger logr.Logger, src, dst *hypervisor.Hypervisor, v *vm.VM, srcPath, dstPath string) error {
	srcVG, srcLV, err := splitDevicePath(srcPath)
	if err != nil {
		return err
	}
	dstVG, dstLV, err := splitDevicePath(dstPath)
	if err != nil {
		return err
	}

	srcAddr := src.Record.GetString("intern_ip")
	dstAddr := dst.Record.GetString("intern_ip")

	master := drbd.New(src.Exec, src.Hostname(), src.Hostname(), srcAddr, srcVG, srcLV, v.Hostname(), true, tx)
	slave := drbd.New(dst.Exec, dst.Hostname(), dst.Hostname(), dstAddr, dstVG, dstLV, v.Hostname(), false, tx)

	masterPeer, err := master.ToPeerInfo(ctx)
	if err != nil {
		return fmt.Errorf("drbd master peer info: %w", err)
	}
	slavePeer, err := slave.ToPeerInfo(ctx)
	if err != nil {
		return fmt.Errorf("drbd slave peer info: %w", err)
	}

	if err := slave.Start(ctx, masterPeer); err != nil {
		return fmt.Errorf("drbd slave start: %w", err)
	}
	if err := master.Start(ctx, slavePeer); err != nil {
		return fmt.Errorf("drbd master start: %w", err)
	}

	if err := master.WaitForSync(ctx, func(line string) { logger.Info("drbd sync", "status", line) }, time.Second); err != nil {
		return fmt.Errorf("drbd wait for sync: %w", err)
	}

	if err := master.Stop(ctx); err != nil {
		return fmt.Errorf("drbd master stop: %w", err)
	}
	if err := slave.Stop(ctx); err != nil {
		return fmt.Errorf("drbd slave stop: %w", err)
	}
	return nil
}

// buildDomainXMLFor synthesizes the destination domain definition for an
// offline move, reusing component H with the inventory's own hardware
// fields and the just-created LV path.
func buildDomainXMLFor(v *vm.VM, dst *hypervisor.Hypervisor, diskPath string) (string, error) {
	spec := domainxml.Spec{
		ObjectID:  v.Record.GetInt("object_id"),
		Hostname:  v.Hostname(),
		UUID:      v.Record.GetString("uuid"),
		MemoryMiB: v.Record.GetInt("memory"),
		MaxMemMiB: dst.Record.GetInt("num_ram"),
		VMNumCPU:  v.Record.GetInt("num_cpu"),
		HVNumCPU:  dst.Record.GetInt("num_cpu"),
		HWModel:   dst.Record.GetString("hardware_model"),
		VLANTag:   v.Record.GetInt("vlan"),
		DiskPath:  diskPath,
	}
	return domainxml.BuildDomainXML(spec)
}
