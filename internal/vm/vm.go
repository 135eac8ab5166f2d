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

// Package vm wraps one guest's inventory record with the guest-side
// operations a build or rebuild needs to perform against its rootfs:
// hostname, network, SSH host keys, swap, and Puppet bootstrap. Before
// the guest can be reached over the network these run over a bind-mounted
// chroot on its hypervisor; afterwards they run over SSH straight into the
// booted guest. VM.Transport selects between the two so every operation
// below goes through the same run/put/get entry points regardless of
// phase.
package vm

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/transport"
)

// sshKeyTypes mirrors managevm's ssh_keytypes default: one host key per
// algorithm family, regenerated on every build.
var sshKeyTypes = []string{"rsa", "ed25519", "ecdsa"}

const swapSizeMiB = 1024

// VM wraps an inventory record for one guest together with the transport
// it is currently reachable through.
type VM struct {
	Record *inventory.Record

	// HVHost is the hypervisor currently hosting (or building) this VM.
	HVHost string
	// MountPath is the rootfs mount point on HVHost, set while the VM is
	// being built or reconfigured offline; empty once booted.
	MountPath string
	// Mounted selects the chroot transport (true) or a direct SSH
	// transport to the guest itself (false).
	Mounted bool

	hvExec transport.Executor
}

// New wraps rec for hvHost, reachable through hvExec for chroot operations
// once Mount is called.
func New(rec *inventory.Record, hvHost string, hvExec transport.Executor) *VM {
	return &VM{Record: rec, HVHost: hvHost, hvExec: hvExec}
}

func (v *VM) Hostname() string { return v.Record.GetString("hostname") }

// SetHVHost repoints the hypervisor this VM's chroot operations target,
// used once a build or migration has settled on (or moved to) a
// destination hypervisor.
func (v *VM) SetHVHost(host string) { v.HVHost = host }

// Mount switches the VM into chroot mode against mountPath on its
// hypervisor, used while the guest's rootfs is offline for building.
func (v *VM) Mount(mountPath string) {
	v.MountPath = mountPath
	v.Mounted = true
}

// Unmount switches the VM into direct-SSH mode, used once the guest has
// booted and is reachable over the network.
func (v *VM) Unmount() {
	v.MountPath = ""
	v.Mounted = false
}

// Transport returns the Executor and host this VM's guest-side operations
// should currently run against.
func (v *VM) Transport() (transport.Executor, string) {
	if v.Mounted {
		return &transport.ChrootExecutor{HVHost: v.HVHost, MountPath: v.MountPath, Host: v.hvExec}, v.HVHost
	}
	return transport.NewSSHExecutor("root"), v.Hostname()
}

func (v *VM) run(ctx context.Context, command string) (string, error) {
	exec, host := v.Transport()
	return exec.Run(ctx, host, command, transport.RunOptions{})
}

func (v *VM) put(ctx context.Context, remotePath string, contents []byte, mode uint32) error {
	exec, host := v.Transport()
	return exec.Put(ctx, host, remotePath, contents, mode)
}

// SetHostname writes /etc/hostname, mirroring preparevm.py's set_hostname.
func (v *VM) SetHostname(ctx context.Context) error {
	_, err := v.run(ctx, fmt.Sprintf("echo %s > /etc/hostname", v.Hostname()))
	return err
}

// SetMailname writes /etc/mailname, mirroring preparevm.py's set_mailname.
func (v *VM) SetMailname(ctx context.Context) error {
	mailname := v.Hostname() + ".ig.local"
	_, err := v.run(ctx, fmt.Sprintf("echo %s > /etc/mailname", mailname))
	return err
}

const hostsTemplate = `127.0.0.1 localhost
{{.InternIP}} {{.Hostname}} {{.Hostname}}.ig.local
`

// CreateHosts renders and writes /etc/hosts from the guest's hostname and
// internal IP, in place of preparevm.py's upload_template('etc/hosts').
func (v *VM) CreateHosts(ctx context.Context) error {
	rendered, err := transport.RenderTemplate("hosts", hostsTemplate, struct {
		InternIP string
		Hostname string
	}{v.Record.GetString("intern_ip"), v.Hostname()})
	if err != nil {
		return err
	}
	return v.put(ctx, "/etc/hosts", rendered, 0o644)
}

const inittabTemplate = `id:2:initdefault:
si::sysinit:/etc/init.d/rcS
1:2345:respawn:/sbin/getty 38400 console
`

// CreateInittab writes /etc/inittab, mirroring preparevm.py's create_inittab.
func (v *VM) CreateInittab(ctx context.Context) error {
	return v.put(ctx, "/etc/inittab", []byte(inittabTemplate), 0o644)
}

const resolvConfTemplate = `{{range .DNSServers}}nameserver {{.}}
{{end}}`

// CreateResolvConf writes /etc/resolv.conf using the DNS servers copied
// from the hypervisor's own configuration, mirroring
// preparevm.py's create_resolvconf.
func (v *VM) CreateResolvConf(ctx context.Context, dnsServers []string) error {
	rendered, err := transport.RenderTemplate("resolv.conf", resolvConfTemplate, struct{ DNSServers []string }{dnsServers})
	if err != nil {
		return err
	}
	return v.put(ctx, "/etc/resolv.conf", rendered, 0o644)
}

const fstabTemplate = `{{.BlkDev}} / {{.Type}} {{.MountOptions}} 0 1
/swap none swap sw 0 0
proc /proc proc defaults 0 0
`

// CreateFstab writes /etc/fstab for blkDev (the guest's root device,
// typically /dev/vda), mirroring preparevm.py's create_fstab.
func (v *VM) CreateFstab(ctx context.Context, blkDev string) error {
	rendered, err := transport.RenderTemplate("fstab", fstabTemplate, struct {
		BlkDev       string
		Type         string
		MountOptions string
	}{blkDev, "xfs", "defaults"})
	if err != nil {
		return err
	}
	return v.put(ctx, "/etc/fstab", rendered, 0o644)
}

const interfacesTemplate = `auto lo
iface lo inet loopback

auto eth0
iface eth0 inet static
    address {{.InternIP}}
    netmask {{.Netmask}}
    gateway {{.Gateway}}
`

// CreateInterfaces writes /etc/network/interfaces, mirroring
// preparevm.py's create_interfaces.
func (v *VM) CreateInterfaces(ctx context.Context, netmask, gateway string) error {
	if _, err := v.run(ctx, "mkdir -p /etc/network"); err != nil {
		return err
	}
	rendered, err := transport.RenderTemplate("interfaces", interfacesTemplate, struct {
		InternIP string
		Netmask  string
		Gateway  string
	}{v.Record.GetString("intern_ip"), netmask, gateway})
	if err != nil {
		return err
	}
	return v.put(ctx, "/etc/network/interfaces", rendered, 0o644)
}

// CreateSSHHostKeys regenerates one host key per entry in sshKeyTypes and
// records its SHA1 and SHA256 fingerprints into the inventory record's
// sshfp attribute, mirroring preparevm.py's create_ssh_keys plus the
// sshfp bookkeeping spec.md calls for.
func (v *VM) CreateSSHHostKeys(ctx context.Context) error {
	fingerprints := make([]string, 0, len(sshKeyTypes))
	for _, typ := range sshKeyTypes {
		keyPath := fmt.Sprintf("/etc/ssh/ssh_host_%s_key", typ)
		if _, err := v.run(ctx, "rm -f "+keyPath); err != nil {
			return igvmerr.RemoteCommand("create_ssh_host_keys", err)
		}
		if _, err := v.run(ctx, fmt.Sprintf(`ssh-keygen -q -t %s -N "" -f %s`, typ, keyPath)); err != nil {
			return igvmerr.RemoteCommand("create_ssh_host_keys", err)
		}
		pub, err := v.getFile(ctx, keyPath+".pub")
		if err != nil {
			return err
		}
		fp, err := sshFingerprint(pub)
		if err != nil {
			return err
		}
		fingerprints = append(fingerprints, fmt.Sprintf("%s %s", typ, fp))
	}
	v.Record.Set("sshfp", fingerprints)
	return nil
}

func (v *VM) getFile(ctx context.Context, remotePath string) ([]byte, error) {
	exec, host := v.Transport()
	return exec.Get(ctx, host, remotePath)
}

// sshFingerprint computes the SHA1 and SHA256 fingerprints of an
// authorized_keys-format public key line, the two digest algorithms
// sshfp records historically carried.
func sshFingerprint(pubKeyLine []byte) (string, error) {
	fields := strings.Fields(string(pubKeyLine))
	if len(fields) < 2 {
		return "", fmt.Errorf("vm: malformed public key: %q", pubKeyLine)
	}
	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", fmt.Errorf("vm: decode public key: %w", err)
	}
	sum1 := sha1.Sum(raw)
	sum256 := sha256.Sum256(raw)
	return fmt.Sprintf("sha1:%x sha256:%x", sum1, sum256), nil
}

// CreateAuthorizedKeys installs operatorKeys (already collected from the
// invoking operator's own ~/.ssh/authorized_keys by the caller) into
// root's authorized_keys file, mirroring sshkeys.py's
// create_authorized_keys.
func (v *VM) CreateAuthorizedKeys(ctx context.Context, operatorKeys []string) error {
	if _, err := v.run(ctx, "mkdir -p /root/.ssh"); err != nil {
		return err
	}
	entries := "\n" + strings.Join(operatorKeys, "\n") + "\n"
	_, err := v.run(ctx, fmt.Sprintf("cat >> /root/.ssh/authorized_keys <<'IGVMEOF'\n%sIGVMEOF\n", entries))
	return err
}

// AllocateSwap creates a 1 GiB swap file at /swap, mirroring
// preparevm.py's generate_swap.
func (v *VM) AllocateSwap(ctx context.Context) error {
	if _, err := v.run(ctx, fmt.Sprintf("dd if=/dev/zero of=/swap bs=1M count=%d", swapSizeMiB)); err != nil {
		return igvmerr.Storage("allocate_swap", err)
	}
	_, err := v.run(ctx, "/sbin/mkswap /swap")
	return err
}

// BlockAutostart installs a policy-rc.d that refuses all service starts,
// so packages installed during image extraction do not start their
// daemons inside the chroot, mirroring preparevm.py's block_autostart.
func (v *VM) BlockAutostart(ctx context.Context) error {
	_, err := v.run(ctx, `printf '#!/bin/sh\nexit 101\n' > /usr/sbin/policy-rc.d && chmod +x /usr/sbin/policy-rc.d`)
	return err
}

// UnblockAutostart removes the policy-rc.d installed by BlockAutostart,
// mirroring preparevm.py's unblock_autostart.
func (v *VM) UnblockAutostart(ctx context.Context) error {
	_, err := v.run(ctx, "rm -f /usr/sbin/policy-rc.d")
	return err
}

// CopyPostbootScript installs script to run once after first boot,
// mirroring preparevm.py's copy_postboot_script.
func (v *VM) CopyPostbootScript(ctx context.Context, script []byte) error {
	return v.put(ctx, "/buildvm-postboot", script, 0o755)
}

// RunPuppet runs a one-shot puppet agent against puppetCAHost, optionally
// clearing any stale certificate first and waiting up to 60s for the CA
// to sign the new one, mirroring preparevm.py's run_puppet.
func (v *VM) RunPuppet(ctx context.Context, puppetCAHost string, clearCert bool) error {
	fqdn := v.Hostname() + ".ig.local"
	if clearCert {
		cmd := fmt.Sprintf(`/usr/bin/puppet cert clean %s || echo "No cert for Host found"`, fqdn)
		if _, err := v.hvExec.Run(ctx, puppetCAHost, cmd, transport.RunOptions{WarnOnly: true}); err != nil {
			return igvmerr.Hypervisor("run_puppet_clean_cert", err)
		}
	}

	// --waitforcert 60 makes puppet itself block for up to 60s while the
	// CA signs the freshly cleaned certificate, so no external retry loop
	// is needed around this call.
	agentCmd := fmt.Sprintf(
		"/usr/bin/puppet agent -v --fqdn=%s --waitforcert 60 --onetime --no-daemonize --tags network,internal_routes",
		fqdn)
	if _, err := v.run(ctx, agentCmd); err != nil {
		return igvmerr.Hypervisor("run_puppet", err)
	}
	return nil
}

// Prepare runs the full guest-configuration sequence against a freshly
// extracted, still-mounted rootfs, mirroring preparevm.py's prepare_vm.
func (v *VM) Prepare(ctx context.Context, dnsServers []string, netmask, gateway, blkDev string, operatorKeys []string) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"set_hostname", func() error { return v.SetHostname(ctx) }},
		{"create_ssh_host_keys", func() error { return v.CreateSSHHostKeys(ctx) }},
		{"create_resolv_conf", func() error { return v.CreateResolvConf(ctx, dnsServers) }},
		{"create_hosts", func() error { return v.CreateHosts(ctx) }},
		{"create_interfaces", func() error { return v.CreateInterfaces(ctx, netmask, gateway) }},
		{"set_mailname", func() error { return v.SetMailname(ctx) }},
		{"allocate_swap", func() error { return v.AllocateSwap(ctx) }},
		{"create_fstab", func() error { return v.CreateFstab(ctx, blkDev) }},
		{"create_inittab", func() error { return v.CreateInittab(ctx) }},
		{"create_authorized_keys", func() error { return v.CreateAuthorizedKeys(ctx, operatorKeys) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return igvmerr.New(igvmerr.KindRemoteCommand, s.name, err)
		}
	}
	return nil
}
