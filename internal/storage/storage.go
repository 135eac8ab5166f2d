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

// Package storage issues the LVM and offline-disk-ship primitives a
// hypervisor needs to provision, resize, mount and evacuate VM storage.
// Every operation is a remote-exec shell command run through a
// transport.Executor, exactly as igvm's utils/storage.py ran them over
// Fabric.
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/innogames/igvm/internal/transport"
)

// minFreeMarginGiB is kept free in a volume group beyond what a new LV
// requests, so a VG never runs completely dry from a single allocation.
const minFreeMarginGiB = 5

// VolumeGroup is one row of `vgs` output.
type VolumeGroup struct {
	Name        string
	SizeFreeMiB int64
	SizeTotalMiB int64
}

// LogicalVolume is one row of `lvs` output.
type LogicalVolume struct {
	Path    string
	Name    string
	VGName  string
	SizeMiB int64
}

// StorageError reports a condition the caller must react to (no space, LV
// already exists, wrong size) rather than a transport failure.
type StorageError struct {
	Msg string
}

func (e *StorageError) Error() string { return e.Msg }

// ListVolumeGroups lists every volume group visible on host.
func ListVolumeGroups(ctx context.Context, exec transport.Executor, host string) ([]VolumeGroup, error) {
	out, err := exec.Run(ctx, host, "vgs --noheadings -o vg_name,vg_free,vg_size --unit m --nosuffix", transport.RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: list volume groups: %w", err)
	}
	var vgs []VolumeGroup
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		free, err := parseMiB(fields[1])
		if err != nil {
			continue
		}
		total, err := parseMiB(fields[2])
		if err != nil {
			continue
		}
		vgs = append(vgs, VolumeGroup{Name: fields[0], SizeFreeMiB: free, SizeTotalMiB: total})
	}
	return vgs, nil
}

// ListLogicalVolumes lists every logical volume visible on host.
func ListLogicalVolumes(ctx context.Context, exec transport.Executor, host string) ([]LogicalVolume, error) {
	out, err := exec.Run(ctx, host, "lvs --noheadings -o name,vg_name,lv_size --unit m --nosuffix", transport.RunOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: list logical volumes: %w", err)
	}
	var lvs []LogicalVolume
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		size, err := parseMiB(fields[2])
		if err != nil {
			continue
		}
		lvs = append(lvs, LogicalVolume{
			Name:    fields[0],
			VGName:  fields[1],
			Path:    fmt.Sprintf("/dev/%s/%s", fields[1], fields[0]),
			SizeMiB: size,
		})
	}
	return lvs, nil
}

// CreateLogicalVolume allocates a new LV named name of sizeGiB GiB in
// the first volume group on host with at least sizeGiB plus
// minFreeMarginGiB GiB free, refusing if an LV of that name already
// exists in any volume group. It returns the new LV's device path.
func CreateLogicalVolume(ctx context.Context, exec transport.Executor, host, name string, sizeGiB int64) (string, error) {
	lvs, err := ListLogicalVolumes(ctx, exec, host)
	if err != nil {
		return "", err
	}
	for _, lv := range lvs {
		if lv.Name == name {
			return "", &StorageError{Msg: fmt.Sprintf("logical volume %s/%s already exists", lv.VGName, lv.Name)}
		}
	}

	vgs, err := ListVolumeGroups(ctx, exec, host)
	if err != nil {
		return "", err
	}
	var target string
	for _, vg := range vgs {
		if vg.SizeFreeMiB/1024 >= sizeGiB+minFreeMarginGiB {
			target = vg.Name
			break
		}
	}
	if target == "" {
		return "", &StorageError{Msg: "not enough free space in any volume group"}
	}

	cmd := fmt.Sprintf("lvcreate -L %dg -n %s %s", sizeGiB, name, target)
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return "", fmt.Errorf("storage: create logical volume %s/%s: %w", target, name, err)
	}
	return fmt.Sprintf("/dev/%s/%s", target, name), nil
}

// ResizeLogicalVolume extends path to sizeGiB GiB.
func ResizeLogicalVolume(ctx context.Context, exec transport.Executor, host, path string, sizeGiB int64) error {
	cmd := fmt.Sprintf("lvresize %s -L %dg", path, sizeGiB)
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: resize %s: %w", path, err)
	}
	return nil
}

// RemoveLogicalVolume force-removes path.
func RemoveLogicalVolume(ctx context.Context, exec transport.Executor, host, path string) error {
	cmd := fmt.Sprintf("lvremove -fy %s", path)
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// FormatXFS formats device with xfs. force passes -f, needed to
// overwrite a pre-existing filesystem signature.
func FormatXFS(ctx context.Context, exec transport.Executor, host, device string, force bool) error {
	cmd := "mkfs.xfs " + device
	if force {
		cmd = "mkfs.xfs -f " + device
	}
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: format %s: %w", device, err)
	}
	return nil
}

// MountTemp creates a fresh mktemp directory tagged with suffix and
// mounts device on it, returning the mount path.
func MountTemp(ctx context.Context, exec transport.Executor, host, device, suffix string) (string, error) {
	mountDir, err := exec.Run(ctx, host, fmt.Sprintf("mktemp -d --suffix %s", suffix), transport.RunOptions{})
	if err != nil {
		return "", fmt.Errorf("storage: mktemp: %w", err)
	}
	mountDir = strings.TrimSpace(mountDir)
	if _, err := exec.Run(ctx, host, fmt.Sprintf("mount %s %s", device, mountDir), transport.RunOptions{}); err != nil {
		return "", fmt.Errorf("storage: mount %s on %s: %w", device, mountDir, err)
	}
	return mountDir, nil
}

// UmountTemp unmounts deviceOrPath.
func UmountTemp(ctx context.Context, exec transport.Executor, host, deviceOrPath string) error {
	if _, err := exec.Run(ctx, host, "umount "+deviceOrPath, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: umount %s: %w", deviceOrPath, err)
	}
	return nil
}

// RemoveTemp removes the directory a MountTemp call created.
func RemoveTemp(ctx context.Context, exec transport.Executor, host, mountPath string) error {
	if _, err := exec.Run(ctx, host, "rm -rf "+mountPath, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", mountPath, err)
	}
	return nil
}

// MountStorage formats device xfs and mounts it under a temp dir tagged
// with hostname, returning the mount path.
func MountStorage(ctx context.Context, exec transport.Executor, host, device, hostname string) (string, error) {
	if err := FormatXFS(ctx, exec, host, device, true); err != nil {
		return "", err
	}
	return MountTemp(ctx, exec, host, device, "-"+hostname)
}

// BlockDeviceName returns the guest-visible block device name for a VM's
// root disk under the given hypervisor type.
func BlockDeviceName(hypervisorType string) (string, error) {
	switch hypervisorType {
	case "kvm":
		return "vda", nil
	case "xen":
		return "xvda1", nil
	default:
		return "", &StorageError{Msg: fmt.Sprintf("VM block device name unknown for hypervisor %s", hypervisorType)}
	}
}

// ResolveVolume finds name among host's logical volumes and confirms its
// size matches expectedSizeGiB once rounded up to whole GiB, the same
// check get_vm_volume performs before handing an LV back to a caller.
func ResolveVolume(ctx context.Context, exec transport.Executor, host, name string, expectedSizeGiB int64) (LogicalVolume, error) {
	lvs, err := ListLogicalVolumes(ctx, exec, host)
	if err != nil {
		return LogicalVolume{}, err
	}
	for _, lv := range lvs {
		if lv.Name != name {
			continue
		}
		gotGiB := (lv.SizeMiB + 1023) / 1024
		if gotGiB != expectedSizeGiB {
			return LogicalVolume{}, &StorageError{Msg: fmt.Sprintf(
				"logical volume %s size %d GiB does not match inventory's %d GiB", name, gotGiB, expectedSizeGiB)}
		}
		return lv, nil
	}
	return LogicalVolume{}, &StorageError{Msg: fmt.Sprintf("logical volume %s not found", name)}
}

// DeviceMinor returns device's block device minor number, as reported by
// stat. Ports for both offline disk ship and DRBD are derived from it so
// two concurrent migrations on the same host never collide.
func DeviceMinor(ctx context.Context, exec transport.Executor, host, device string) (int64, error) {
	out, err := exec.Run(ctx, host, fmt.Sprintf(`stat -L -c "%%T" %s`, device), transport.RunOptions{})
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", device, err)
	}
	minor, err := strconv.ParseInt(strings.TrimSpace(out), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("storage: parse minor of %s: %w", device, err)
	}
	return minor, nil
}

// ListenForDisk starts a background netcat listener on host that writes
// everything it receives to device, and returns the port it is
// listening on (7000 + minor(device)).
func ListenForDisk(ctx context.Context, exec transport.Executor, host, device string) (int64, error) {
	minor, err := DeviceMinor(ctx, exec, host, device)
	if err != nil {
		return 0, err
	}
	port := 7000 + minor
	cmd := fmt.Sprintf("nohup nc -l -p %d | dd of=%s obs=1048576 >/dev/null 2>&1 &", port, device)
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return 0, fmt.Errorf("storage: start disk listener on %s: %w", host, err)
	}
	return port, nil
}

// SendDisk streams device's sizeBytes bytes to destHost:port, using pv to
// report progress on the sending side.
func SendDisk(ctx context.Context, exec transport.Executor, host, device string, sizeBytes int64, destHost string, port int64) error {
	cmd := fmt.Sprintf("dd if=%s ibs=1048576 | pv -f -s %d | nc -q 1 %s %d", device, sizeBytes, destHost, port)
	if _, err := exec.Run(ctx, host, cmd, transport.RunOptions{}); err != nil {
		return fmt.Errorf("storage: ship %s to %s:%d: %w", device, destHost, port, err)
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseMiB(field string) (int64, error) {
	f, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	return int64(f + 0.999999), nil
}
