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

// Package build drives the full "build a new VM" state machine: validate,
// select and reserve a hypervisor, create and format storage, fetch and
// extract the base image, prepare the guest, define and start the
// domain, commit inventory, and wait for the guest to come up over SSH.
// Every mutating step registers a rollback on a transaction the way
// igvm's buildvm.py relied on Fabric's own abort-unwinds-nothing model,
// except here failures are compensated for explicitly.
package build

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/innogames/igvm/internal/domainxml"
	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/kernel"
	"github.com/innogames/igvm/internal/log"
	"github.com/innogames/igvm/internal/retry"
	"github.com/innogames/igvm/internal/selector"
	"github.com/innogames/igvm/internal/transaction"
	"github.com/innogames/igvm/internal/transport"
	"github.com/innogames/igvm/internal/vm"
)

// Options configures one build run, mirroring the `build` CLI
// subcommand's flags from spec.md §6.
type Options struct {
	LocalImage     string
	PostbootScript []byte
	NoPuppet       bool
	PuppetCAHost   string
	OperatorKeys   []string
	DNSServers     []string
	Netmask        string
	Gateway        string

	ImageBaseURL     string
	ImageChecksumURL string
}

// Run executes the full build pipeline for v, choosing a hypervisor out
// of candidates via the selector, and returns once the guest has
// answered SSH and run its postboot script.
func Run(ctx context.Context, tx *transaction.Transaction, gw inventory.Gateway, v *vm.VM, candidates []*hypervisor.Hypervisor, constraints []selector.Constraint, prefs []selector.Preference, opts Options) (*hypervisor.Hypervisor, error) {
	logger := log.FromContext(ctx, "build", "run", "vm", v.Hostname())

	if v.Hostname() == "" {
		return nil, igvmerr.Config("validate", fmt.Errorf("vm record has no hostname"))
	}

	survivors, err := selector.Filter(ctx, v, candidates, constraints)
	if err != nil {
		return nil, err
	}
	ranked, err := selector.Rank(ctx, v, survivors, prefs)
	if err != nil {
		return nil, err
	}
	dst, ok := selector.Best(ranked)
	if !ok {
		return nil, igvmerr.Hypervisor("select_hv", fmt.Errorf("no hypervisor candidate satisfies %s's constraints", v.Hostname()))
	}
	logger = logger.WithValues("hypervisor", dst.Hostname())
	v.SetHVHost(dst.Hostname())

	if dst.LockAbandoned(time.Now()) {
		logger.Info("clearing abandoned hypervisor lock before reserving it")
	}
	dst.AcquireLock()
	if err := gw.Commit(ctx, inventory.KindHypervisor, dst.Record); err != nil {
		return nil, igvmerr.Config("reserve_hv", err)
	}
	tx.OnRollback("release_lock", func() error {
		dst.ReleaseLock()
		return gw.Commit(ctx, inventory.KindHypervisor, dst.Record)
	})

	if err := dst.CheckVM(ctx, v); err != nil {
		return nil, err
	}

	diskPath, err := dst.CreateVMStorage(ctx, v)
	if err != nil {
		return nil, err
	}
	tx.OnRollback("remove_storage", func() error { return dst.DestroyVMStorage(ctx, v) })

	if _, err := dst.FormatVMStorage(ctx, v); err != nil {
		return nil, err
	}
	tx.OnRollback("umount_storage", func() error { return dst.UmountVMStorage(ctx, v) })

	image := opts.LocalImage
	if image == "" {
		image, err = fetchImage(ctx, dst, opts)
		if err != nil {
			return nil, err
		}
	}
	if err := extractImage(ctx, dst, v, image); err != nil {
		return nil, err
	}

	if err := v.Prepare(ctx, opts.DNSServers, opts.Netmask, opts.Gateway, diskPath, opts.OperatorKeys); err != nil {
		return nil, err
	}
	if err := v.BlockAutostart(ctx); err != nil {
		return nil, err
	}

	if !opts.NoPuppet {
		if err := v.RunPuppet(ctx, opts.PuppetCAHost, false); err != nil {
			return nil, err
		}
	}

	if err := v.UnblockAutostart(ctx); err != nil {
		return nil, err
	}
	if opts.PostbootScript != nil {
		if err := v.CopyPostbootScript(ctx, opts.PostbootScript); err != nil {
			return nil, err
		}
	}

	if err := dst.UmountVMStorage(ctx, v); err != nil {
		return nil, err
	}

	numaNodes, err := domainxml.ReadNUMATopology(ctx, dst.Exec, dst.Hostname())
	if err != nil {
		return nil, err
	}
	hugepages, err := hugepagesEnabled(ctx, dst)
	if err != nil {
		return nil, err
	}

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
		NUMANodes: numaNodes,
		Hugepages: hugepages,
	}
	domXML, err := domainxml.BuildDomainXML(spec)
	if err != nil {
		return nil, err
	}
	if err := dst.DefineVM(ctx, domXML); err != nil {
		return nil, err
	}
	tx.OnRollback("undefine_vm", func() error { return dst.UndefineVM(ctx, v) })

	v.Record.Set("hypervisor", dst.Hostname())
	v.Record.Set("xen_host", dst.Hostname())
	v.Record.Set("state", "online")
	if err := gw.Commit(ctx, "vm", v.Record); err != nil {
		return nil, igvmerr.Config("commit_inventory", err)
	}
	tx.Checkpoint()

	if err := dst.StartVM(ctx, v); err != nil {
		return nil, err
	}

	if err := waitForSSH(ctx, v.Record.GetString("intern_ip"), 22); err != nil {
		return nil, err
	}

	if opts.PostbootScript != nil {
		if _, err := runPostboot(ctx, v); err != nil {
			return nil, err
		}
	}

	dst.ReleaseLock()
	if err := gw.Commit(ctx, inventory.KindHypervisor, dst.Record); err != nil {
		return dst, igvmerr.Config("release_lock", err)
	}
	return dst, nil
}

// runPostboot executes the postboot script copied earlier into the
// booted guest, now reachable over SSH since v is no longer Mounted.
func runPostboot(ctx context.Context, v *vm.VM) (string, error) {
	exec, host := v.Transport()
	return exec.Run(ctx, host, "/buildvm-postboot", transport.RunOptions{})
}

// dialTCP attempts a single TCP connection to addr, closing it
// immediately on success; used as the retry.Check for waitForSSH.
func dialTCP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// waitForSSH polls host:port with exponential backoff, mirroring
// `wait_until`'s capped-backoff TCP connect wait.
func waitForSSH(ctx context.Context, host string, port int) error {
	if host == "" {
		return igvmerr.Network("wait_for_ssh", fmt.Errorf("no intern_ip recorded for guest"))
	}
	addr := fmt.Sprintf("%s:%d", host, port)
	if err := retry.Do(ctx, retry.DefaultOptions(), func(ctx context.Context) error {
		return dialTCP(ctx, addr)
	}); err != nil {
		return igvmerr.Timeout("wait_for_ssh", err)
	}
	return nil
}

// fetchImage downloads the base image onto dst if it is missing or its
// checksum does not match the authoritative checksum URL, mirroring
// download_image/validate_image_checksum.
func fetchImage(ctx context.Context, dst *hypervisor.Hypervisor, opts Options) (string, error) {
	if opts.ImageBaseURL == "" {
		return "", igvmerr.Config("fetch_image", fmt.Errorf("no image base URL configured"))
	}
	imageName := "base-image.tar.gz"
	imagePath := "/var/cache/igvm/" + imageName

	exists, _ := dst.Exec.Run(ctx, dst.Hostname(), fmt.Sprintf("test -f %s && echo yes || echo no", imagePath), transport.RunOptions{})
	if strings.TrimSpace(exists) == "yes" {
		if ok, err := verifyChecksum(ctx, dst, imagePath, imageName, opts); err == nil && ok {
			return imagePath, nil
		}
		if _, err := dst.Exec.Run(ctx, dst.Hostname(), "rm -f "+imagePath, transport.RunOptions{}); err != nil {
			return "", igvmerr.RemoteCommand("fetch_image", err)
		}
	}

	cmd := fmt.Sprintf("mkdir -p /var/cache/igvm && wget -nv -O %s %s/%s", imagePath, opts.ImageBaseURL, imageName)
	if _, err := dst.Exec.Run(ctx, dst.Hostname(), cmd, transport.RunOptions{}); err != nil {
		return "", igvmerr.Network("fetch_image", err)
	}
	return imagePath, nil
}

// verifyChecksum compares the image's local md5sum against the
// authoritative checksum URL and reports whether they match; a failed
// fetch counts as a mismatch. On a mismatch fetchImage re-downloads
// rather than trusting a stale cached copy.
func verifyChecksum(ctx context.Context, dst *hypervisor.Hypervisor, imagePath, imageName string, opts Options) (bool, error) {
	out, err := dst.Exec.Run(ctx, dst.Hostname(), "md5sum "+imagePath, transport.RunOptions{})
	if err != nil {
		return false, igvmerr.RemoteCommand("verify_checksum", err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return false, igvmerr.RemoteCommand("verify_checksum", fmt.Errorf("unexpected md5sum output %q", out))
	}
	localHash := fields[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.ImageChecksumURL+"/"+imageName, nil)
	if err != nil {
		return false, igvmerr.Network("verify_checksum", err)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.FromContext(ctx, "build").Info("failed to fetch authoritative checksum, assuming stale", "err", err.Error())
		return false, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, igvmerr.Network("verify_checksum", err)
	}
	remoteFields := strings.Fields(string(body))
	if len(remoteFields) == 0 {
		return false, nil
	}
	return localHash == remoteFields[0], nil
}

// hugepagesEnabled reads the destination hypervisor's live kernel command
// line over the same transport used for every other remote step, rather
// than trusting a stale inventory flag, and reports whether it reserves
// static hugepages (kvm_place_numa's cue to skip <numatune>).
func hugepagesEnabled(ctx context.Context, dst *hypervisor.Hypervisor) (bool, error) {
	out, err := dst.Exec.Run(ctx, dst.Hostname(), "cat /proc/cmdline", transport.RunOptions{Silent: true})
	if err != nil {
		return false, igvmerr.Hypervisor("read_cmdline", err)
	}
	params := kernel.Parameters{CommandLine: strings.TrimSpace(out)}
	return params.HugepagesEnabled(), nil
}

// extractImage unpacks image into v's mounted rootfs, preserving
// extended attributes except on legacy OS releases that never carried
// them, mirroring extract_image's `tar --xattrs` branch.
func extractImage(ctx context.Context, dst *hypervisor.Hypervisor, v *vm.VM, image string) error {
	hwOS := dst.Record.GetString("os")
	var cmd string
	if hwOS == "squeeze" {
		cmd = fmt.Sprintf("tar xfz %s -C %s", image, v.MountPath)
	} else {
		cmd = fmt.Sprintf("tar --xattrs --xattrs-include='*' -xzf %s -C %s", image, v.MountPath)
	}
	if _, err := dst.Exec.Run(ctx, dst.Hostname(), cmd, transport.RunOptions{}); err != nil {
		return igvmerr.RemoteCommand("extract_image", err)
	}
	return nil
}
