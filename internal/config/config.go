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

// Package config decodes the YAML settings file backing every tunable the
// orchestration engine needs: reserved host memory, default swap size, the
// hardware-model-to-CPU-model table, per-OS-pair migration URIs, DRBD and
// netcat port bases, and lock timeouts.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Settings mirrors igvm's settings.py module constants as data instead of
// hardcoded globals, decoded from a YAML file so an operator can tune a
// fleet without a rebuild.
type Settings struct {
	// SSHUser is the user igvm connects to hypervisors and guests as.
	SSHUser string `yaml:"ssh_user"`
	// ForwardAgent mirrors Fabric's forward_agent=True: required for
	// hypervisor-to-hypervisor commands (e.g. disk ship, DRBD setup).
	ForwardAgent bool `yaml:"forward_agent"`

	// DefaultSwapSizeMiB is the swap file size allocated during build.
	DefaultSwapSizeMiB int64 `yaml:"default_swap_size_mib"`
	// HostReservedMemoryMiB is memory withheld from guest admission to
	// leave room for the hypervisor's own OS.
	HostReservedMemoryMiB int64 `yaml:"host_reserved_memory_mib"`
	// HostReservedDiskGiB is disk space withheld for root+swap on a
	// candidate hypervisor.
	HostReservedDiskGiB int64 `yaml:"host_reserved_disk_gib"`

	// KVMDefaultMaxCPUs is the default vcpu count, per spec.md §4.H.
	KVMDefaultMaxCPUs int `yaml:"kvm_default_max_cpus"`
	// HWModelToCPUModel maps serveradmin hardware_model to the libvirt
	// CPU model name the domain XML should request.
	HWModelToCPUModel map[string]string `yaml:"hw_model_to_cpu_model"`

	// MigrationURITemplate maps an "<os>:<os>" pair to a qemu migration
	// URI template containing a %s for the destination hostname.
	MigrationURITemplate map[string]string `yaml:"migration_uri_template"`

	// LockTimeout is how long an igvm_locked timestamp may age before a
	// cleaner considers it abandoned.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// DRBDPortBase and NetcatPortBase are added to a device's minor
	// number to derive the port used for block transport.
	DRBDPortBase   int `yaml:"drbd_port_base"`
	NetcatPortBase int `yaml:"netcat_port_base"`

	// RetiredVMGracePeriod is how long a VM may stay in state "retired"
	// before the housekeeping daemon's reaper deletes it.
	RetiredVMGracePeriod time.Duration `yaml:"retired_vm_grace_period"`

	// PuppetCAMasters lists candidate Puppet CA hosts, in preference order.
	PuppetCAMasters []string `yaml:"puppet_ca_masters"`
}

// Default returns the settings baked into igvm's original Python
// constants, used whenever no config file is supplied.
func Default() Settings {
	return Settings{
		SSHUser:               "root",
		ForwardAgent:          true,
		DefaultSwapSizeMiB:    1024,
		HostReservedMemoryMiB: 2 * 1024,
		HostReservedDiskGiB:   5,
		KVMDefaultMaxCPUs:     24,
		HWModelToCPUModel: map[string]string{
			"Dell_M610": "Nehalem",
			"Dell_M710": "Nehalem",
			"Dell_M620": "SandyBridge",
			"Dell_M630": "SandyBridge",
			"Dell_R620": "SandyBridge",
		},
		MigrationURITemplate: map[string]string{},
		LockTimeout:          2 * time.Hour,
		DRBDPortBase:         8000,
		NetcatPortBase:       7000,
		RetiredVMGracePeriod: 7 * 24 * time.Hour,
		PuppetCAMasters: []string{
			"master.puppet.ig.local",
			"ca.puppet.ig.local",
		},
	}
}

// Load reads and decodes a YAML settings file, starting from Default() so
// that a partial file only overrides the fields it sets.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}
