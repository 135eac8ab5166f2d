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

// Package drbd implements DRBD-backed disk replication for online
// migrations that must copy disk while the VM keeps running, ported
// line-for-line from igvm's drbd.py: meta LV sizing, .res file
// rendering, dm-setup table swap ordering, and /proc/drbd progress
// parsing.
package drbd

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/innogames/igvm/internal/retry"
	"github.com/innogames/igvm/internal/transaction"
	"github.com/innogames/igvm/internal/transport"
)

// metaSizeMiB is large enough to back up to 7 TiB of synced storage.
const metaSizeMiB = 256

// PeerInfo describes one side of a replicated device, enough to render
// the `on <host> { ... }` block of a .res file for either side.
type PeerInfo struct {
	Hostname    string
	Address     string
	DeviceMinor int64
	VGName      string
	LVName      string
	MetaDisk    string
	MasterRole  bool
}

// Replicator drives DRBD replication of one logical volume between two
// hypervisors. One Replicator is constructed per side; the source side
// runs with MasterRole true.
type Replicator struct {
	Exec       transport.Executor
	Host       string
	Hostname   string
	Address    string
	VGName     string
	LVName     string
	VMName     string
	MasterRole bool
	Tx         *transaction.Transaction

	metaDisk  string
	tableFile string
	devMinor  int64
	haveMinor bool
}

// New returns a Replicator for one side of vmName's replicated device.
// hostname/address identify this side in the rendered .res file; they
// come from the hypervisor's own inventory record.
func New(exec transport.Executor, host, hostname, address, vgName, lvName, vmName string, masterRole bool, tx *transaction.Transaction) *Replicator {
	return &Replicator{
		Exec:       exec,
		Host:       host,
		Hostname:   hostname,
		Address:    address,
		VGName:     vgName,
		LVName:     lvName,
		VMName:     vmName,
		MasterRole: masterRole,
		Tx:         tx,
		metaDisk:   vmName + "_meta",
		tableFile:  fmt.Sprintf("/tmp/%s_%s_table", vgName, lvName),
	}
}

func (r *Replicator) run(ctx context.Context, cmd string) (string, error) {
	return r.Exec.Run(ctx, r.Host, cmd, transport.RunOptions{})
}

// DeviceMinor returns the underlying LV's block device minor number,
// caching it for the lifetime of the Replicator.
func (r *Replicator) DeviceMinor(ctx context.Context) (int64, error) {
	if r.haveMinor {
		return r.devMinor, nil
	}
	out, err := r.run(ctx, fmt.Sprintf(`stat -L -c "%%T" /dev/%s/%s`, r.VGName, r.LVName))
	if err != nil {
		return 0, fmt.Errorf("drbd: stat device: %w", err)
	}
	minor, err := strconv.ParseInt(strings.TrimSpace(out), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("drbd: parse device minor: %w", err)
	}
	r.devMinor = minor
	r.haveMinor = true
	return minor, nil
}

// DevicePort is the DRBD replication port for this device: 8000 + minor,
// kept distinct from offline-ship's 7000 + minor range so the two
// mechanisms never collide on the same host.
func (r *Replicator) DevicePort(ctx context.Context) (int64, error) {
	minor, err := r.DeviceMinor(ctx)
	if err != nil {
		return 0, err
	}
	return 8000 + minor, nil
}

// DeviceSize returns the LV's size in bytes.
func (r *Replicator) DeviceSize(ctx context.Context) (int64, error) {
	out, err := r.run(ctx, fmt.Sprintf("lvs --noheadings -o lv_size --units b --nosuffix %s/%s", r.VGName, r.LVName))
	if err != nil {
		return 0, fmt.Errorf("drbd: device size: %w", err)
	}
	return strconv.ParseInt(strings.TrimSpace(out), 10, 64)
}

// ToPeerInfo resolves this side's own PeerInfo, for the other side's
// Start call to render into its .res file.
func (r *Replicator) ToPeerInfo(ctx context.Context) (PeerInfo, error) {
	minor, err := r.DeviceMinor(ctx)
	if err != nil {
		return PeerInfo{}, err
	}
	return PeerInfo{
		Hostname:    r.Hostname,
		Address:     r.Address,
		DeviceMinor: minor,
		VGName:      r.VGName,
		LVName:      r.LVName,
		MetaDisk:    r.metaDisk,
		MasterRole:  r.MasterRole,
	}, nil
}

// Start brings this side of the replicated device up against peer,
// registering a rollback for every allocation it makes on r.Tx.
func (r *Replicator) Start(ctx context.Context, peer PeerInfo) error {
	if err := r.prepareMetadataDevice(ctx); err != nil {
		return err
	}
	if r.MasterRole {
		if err := r.prepareLVOverride(ctx); err != nil {
			return err
		}
	}
	if err := r.buildConfig(ctx, peer); err != nil {
		return err
	}
	if r.MasterRole {
		return r.replicateToSlave(ctx)
	}
	return r.replicateFromMaster(ctx)
}

// prepareMetadataDevice creates and zeroes the metadata LV for DRBD.
func (r *Replicator) prepareMetadataDevice(ctx context.Context) error {
	if _, err := r.run(ctx, fmt.Sprintf("lvcreate -n %s -L%dM %s", r.metaDisk, metaSizeMiB, r.VGName)); err != nil {
		return fmt.Errorf("drbd: create meta device: %w", err)
	}
	if r.Tx != nil {
		r.Tx.OnRollback("remove DRBD meta device", func() error {
			_, err := r.run(ctx, fmt.Sprintf("lvremove -fy %s/%s", r.VGName, r.metaDisk))
			return err
		})
	}
	// The meta device must be zeroed, otherwise DRBD may complain about
	// stale metadata left over from a previous allocation of the LV.
	if _, err := r.run(ctx, fmt.Sprintf("dd if=/dev/zero of=/dev/%s/%s bs=1048576 count=%d", r.VGName, r.metaDisk, metaSizeMiB)); err != nil {
		return fmt.Errorf("drbd: zero meta device: %w", err)
	}
	return nil
}

// prepareLVOverride dumps the original LV's device-mapper table and
// recreates it under a new name, so the original LV name can be
// re-pointed at the DRBD device once replication is up.
func (r *Replicator) prepareLVOverride(ctx context.Context) error {
	if _, err := r.run(ctx, fmt.Sprintf("dmsetup table /dev/%s/%s > %s", r.VGName, r.LVName, r.tableFile)); err != nil {
		return fmt.Errorf("drbd: dump device-mapper table: %w", err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("dmsetup create %s_orig < %s", r.LVName, r.tableFile)); err != nil {
		return fmt.Errorf("drbd: create override device: %w", err)
	}
	if r.Tx != nil {
		r.Tx.OnRollback("remove copy of original device", func() error {
			_, err := r.run(ctx, fmt.Sprintf("dmsetup remove %s_orig", r.LVName))
			return err
		})
	}
	return nil
}

const resTemplate = `resource {{.Dev}} {
    net {
        protocol A;
        max-buffers 24k;
    }
    disk {
         no-disk-flushes;
         no-md-flushes;
         no-disk-barrier;
         c-max-rate 750M;
         resync-rate 750M;
    }
{{.SrcHost}}
{{.DstHost}}
}
`

func hostConfigBlock(p PeerInfo) string {
	disk := fmt.Sprintf("%s/%s", p.VGName, p.LVName)
	if p.MasterRole {
		disk = fmt.Sprintf("mapper/%s_orig", p.LVName)
	}
	return fmt.Sprintf(
		"    on %s {\n"+
			"        address   %s:%d;\n"+
			"        device    /dev/drbd%d;\n"+
			"        disk      /dev/%s;\n"+
			"        meta-disk /dev/%s/%s;\n"+
			"    }",
		p.Hostname, p.Address, 8000+p.DeviceMinor, p.DeviceMinor, disk, p.VGName, p.MetaDisk)
}

// buildConfig renders and installs the .res file naming both sides of
// the replication, via component B's template renderer.
func (r *Replicator) buildConfig(ctx context.Context, peer PeerInfo) error {
	self, err := r.ToPeerInfo(ctx)
	if err != nil {
		return err
	}
	srcBlock, dstBlock := hostConfigBlock(self), hostConfigBlock(peer)
	if !r.MasterRole {
		srcBlock, dstBlock = dstBlock, srcBlock
	}
	vars := struct{ Dev, SrcHost, DstHost string }{Dev: r.VMName, SrcHost: srcBlock, DstHost: dstBlock}
	content, err := transport.RenderTemplate("drbd.res", resTemplate, vars)
	if err != nil {
		return fmt.Errorf("drbd: render config: %w", err)
	}
	path := fmt.Sprintf("/etc/drbd.d/%s.res", r.VMName)
	if err := r.Exec.Put(ctx, r.Host, path, content, 0640); err != nil {
		return fmt.Errorf("drbd: install config: %w", err)
	}
	if r.Tx != nil {
		r.Tx.OnRollback("remove configuration file", func() error {
			_, err := r.run(ctx, "rm "+path)
			return err
		})
	}
	return nil
}

// replicateToSlave brings DRBD up on the master side and transparently
// switches the running VM's device to talk to it.
func (r *Replicator) replicateToSlave(ctx context.Context) error {
	// Size must be read before the device is suspended.
	size, err := r.DeviceSize(ctx)
	if err != nil {
		return err
	}

	if _, err := r.run(ctx, fmt.Sprintf("dmsetup suspend /dev/%s/%s", r.VGName, r.LVName)); err != nil {
		return fmt.Errorf("drbd: suspend device: %w", err)
	}
	if r.Tx != nil {
		r.Tx.OnRollback("resume original device", func() error {
			_, err := r.run(ctx, fmt.Sprintf("dmsetup resume /dev/%s/%s", r.VGName, r.LVName))
			return err
		})
		// "drbdadm up" may report failure due to misconfiguration but
		// still leaves the device started, so "down" always runs.
		r.Tx.OnRollback("bring DRBD device down", func() error {
			_, err := r.run(ctx, fmt.Sprintf("drbdadm down %s", r.VMName))
			return err
		})
	}

	if _, err := r.run(ctx, fmt.Sprintf("drbdadm create-md %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: create-md: %w", err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("drbdadm up %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: up: %w", err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("drbdadm -- --overwrite-data-of-peer primary %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: primary: %w", err)
	}

	minor, err := r.DeviceMinor(ctx)
	if err != nil {
		return err
	}
	// Device Mapper blocks are always 512 bytes.
	sectors := size / 512
	if _, err := r.run(ctx, fmt.Sprintf(`dmsetup load /dev/%s/%s --table "0 %d linear /dev/drbd%d 0"`, r.VGName, r.LVName, sectors, minor)); err != nil {
		return fmt.Errorf("drbd: load new table: %w", err)
	}
	if r.Tx != nil {
		// WARNING: a write to DRBD racing with one to the underlying
		// device between suspend and resume below can still be lost.
		r.Tx.OnRollback("resume LV device", func() error {
			_, err := r.run(ctx, fmt.Sprintf("dmsetup resume /dev/%s/%s", r.VGName, r.LVName))
			return err
		})
		r.Tx.OnRollback("restore LV device table", func() error {
			_, err := r.run(ctx, fmt.Sprintf("dmsetup load /dev/%s/%s < %s", r.VGName, r.LVName, r.tableFile))
			return err
		})
	}
	if _, err := r.run(ctx, fmt.Sprintf("dmsetup resume /dev/%s/%s", r.VGName, r.LVName)); err != nil {
		return fmt.Errorf("drbd: resume device: %w", err)
	}
	return nil
}

func (r *Replicator) replicateFromMaster(ctx context.Context) error {
	if _, err := r.run(ctx, fmt.Sprintf("drbdadm create-md %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: create-md: %w", err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("drbdadm up %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: up: %w", err)
	}
	if r.Tx != nil {
		r.Tx.OnRollback("bring DRBD device down", func() error {
			_, err := r.run(ctx, fmt.Sprintf("drbdadm down %s", r.VMName))
			return err
		})
	}
	if _, err := r.run(ctx, fmt.Sprintf("drbdadm wait-connect %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: wait-connect: %w", err)
	}
	return nil
}

var procDRBDLine = regexp.MustCompile(`^\s*(\d+): cs:(\S+)(?:.*ds:(\S+))?`)

// procDRBDStatus reports whether minor's line in /proc/drbd's contents
// shows both sides UpToDate.
func procDRBDStatus(data []byte, minor int64) (line string, upToDate bool, found bool) {
	want := strconv.FormatInt(minor, 10)
	for _, l := range strings.Split(string(data), "\n") {
		m := procDRBDLine.FindStringSubmatch(l)
		if m == nil || m[1] != want {
			continue
		}
		return l, strings.Contains(l, "ds:UpToDate/UpToDate"), true
	}
	return "", false, false
}

// WaitForSync polls /proc/drbd every pollInterval, logging sync progress,
// until this device's minor reports UpToDate on both sides, then
// confirms with `drbdsetup wait-sync` as a final check.
func (r *Replicator) WaitForSync(ctx context.Context, log func(string), pollInterval time.Duration) error {
	minor, err := r.DeviceMinor(ctx)
	if err != nil {
		return err
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	opts := retry.Options{Initial: pollInterval, Max: pollInterval, Budget: 0}
	err = retry.Do(ctx, opts, func(ctx context.Context) error {
		data, err := r.Exec.Get(ctx, r.Host, "/proc/drbd")
		if err != nil {
			return err
		}
		line, upToDate, found := procDRBDStatus(data, minor)
		if !found {
			// Status for this device is gone; nothing more to wait for.
			return nil
		}
		if log != nil {
			log(line)
		}
		if upToDate {
			return nil
		}
		return fmt.Errorf("drbd: %d not yet in sync", minor)
	})
	if err != nil {
		return err
	}

	if _, err := r.run(ctx, fmt.Sprintf("drbdsetup wait-sync %d", minor)); err != nil {
		return fmt.Errorf("drbd: wait-sync: %w", err)
	}
	return nil
}

// Stop tears down replication. On the master side it first restores the
// original dm table so libvirt's still-open handle is pointed back at
// the plain LV before DRBD is brought down; order matters because
// libvirt holds the device open until the table is swapped back.
func (r *Replicator) Stop(ctx context.Context) error {
	if r.MasterRole {
		if _, err := r.run(ctx, fmt.Sprintf("dmsetup load /dev/%s/%s < %s", r.VGName, r.LVName, r.tableFile)); err != nil {
			return fmt.Errorf("drbd: restore table: %w", err)
		}
		if _, err := r.run(ctx, fmt.Sprintf("dmsetup resume /dev/%s/%s", r.VGName, r.LVName)); err != nil {
			return fmt.Errorf("drbd: resume device: %w", err)
		}
	}

	if _, err := r.run(ctx, fmt.Sprintf("drbdadm down %s", r.VMName)); err != nil {
		return fmt.Errorf("drbd: down: %w", err)
	}

	if r.MasterRole {
		if _, err := r.run(ctx, fmt.Sprintf("dmsetup remove %s_orig", r.LVName)); err != nil {
			return fmt.Errorf("drbd: remove override device: %w", err)
		}
	}

	if _, err := r.run(ctx, fmt.Sprintf("lvremove -fy %s/%s", r.VGName, r.metaDisk)); err != nil {
		return fmt.Errorf("drbd: remove meta device: %w", err)
	}
	if _, err := r.run(ctx, fmt.Sprintf("rm /etc/drbd.d/%s.res", r.VMName)); err != nil {
		return fmt.Errorf("drbd: remove config: %w", err)
	}
	return nil
}
