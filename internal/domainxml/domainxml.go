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

// Package domainxml synthesizes a deterministic libvirt domain definition
// and drives the live vCPU/memory reconfiguration and migration-flag
// choices that depend on the same CPU-model and NUMA layout, ported from
// igvm's kvm.py XML-customization signal handlers into plain Go
// functions operating on a struct model instead of ElementTree surgery.
package domainxml

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/innogames/igvm/internal/igvmerr"
	"github.com/innogames/igvm/internal/transport"
)

// DefaultMaxCPUs is the floor every domain is given vcpus for, regardless
// of how small the guest's requested CPU count is, matching igvm's
// DEFAULT_MAX_CPUS constant.
const DefaultMaxCPUs = 24

// MaxMemorySlots is the DIMM slot count every domain's <maxMemory> is
// given, matching spec.md's "slots=16".
const MaxMemorySlots = 16

// cpuModelByHWModel ports kvm_hw_model's model2arch table.
var cpuModelByHWModel = map[string]string{
	"Dell_M610": "Nehalem", "Dell_M710": "Nehalem",
	"Dell_M620": "SandyBridge", "Dell_M630": "SandyBridge", "Dell_R620": "SandyBridge",
}

// CPUModelForHWModel returns the CPU model libvirt should emulate for a
// given physical hardware model, and whether one is known. Unknown models
// get no <cpu> override, matching kvm_hw_model's silent fallthrough.
func CPUModelForHWModel(hwModel string) (string, bool) {
	model, ok := cpuModelByHWModel[hwModel]
	return model, ok
}

// macAddressPrefix is the locally administered, fixed OUI every guest NIC
// MAC is built from; the low three bytes come from the VM's object ID.
const macAddressPrefix = "52:54:00"

// MACAddress derives a deterministic MAC from objectID's low three bytes,
// mirroring spec.md's "fixed prefix + low 3 bytes of object_id."
func MACAddress(objectID int64) string {
	b := uint32(objectID) & 0xFFFFFF
	return fmt.Sprintf("%s:%02x:%02x:%02x", macAddressPrefix, (b>>16)&0xFF, (b>>8)&0xFF, b&0xFF)
}

// VCPUCount applies spec.md's "max(DEFAULT_MAX_CPUS, vm.num_cpu), clipped
// to HV.num_cpu" formula.
func VCPUCount(vmNumCPU, hvNumCPU int64) int64 {
	n := vmNumCPU
	if n < DefaultMaxCPUs {
		n = DefaultMaxCPUs
	}
	if n > hvNumCPU {
		n = hvNumCPU
	}
	return n
}

// NUMANode is one physical NUMA node's CPU set, as read from
// /sys/devices/system/node/node*/cpulist.
type NUMANode struct {
	CPUSet string
}

// ReadNUMATopology reads the hypervisor's physical NUMA layout, mirroring
// kvm_place_numa's `cat /sys/devices/system/node/node*/cpulist`.
func ReadNUMATopology(ctx context.Context, exec transport.Executor, host string) ([]NUMANode, error) {
	out, err := exec.Run(ctx, host, "cat /sys/devices/system/node/node*/cpulist", transport.RunOptions{Silent: true})
	if err != nil {
		return nil, igvmerr.Hypervisor("read_numa_topology", err)
	}
	var nodes []NUMANode
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nodes = append(nodes, NUMANode{CPUSet: line})
	}
	if len(nodes) == 0 {
		return nil, igvmerr.Hypervisor("read_numa_topology", fmt.Errorf("no NUMA nodes found"))
	}
	return nodes, nil
}

// Spec is everything BuildDomainXML needs to synthesize one domain
// definition.
type Spec struct {
	ObjectID   int64
	Hostname   string
	UUID       string
	MemoryMiB  int64
	MaxMemMiB  int64 // HV-wide ceiling, always >= MemoryMiB
	VMNumCPU   int64
	HVNumCPU   int64
	HWModel    string
	VLANTag    int64 // -1 for untagged
	DiskPath   string
	MemHotplug bool // qemu >= 2.3
	NUMANodes  []NUMANode
	Hugepages  bool
}

type domainXML struct {
	XMLName      xml.Name      `xml:"domain"`
	Type         string        `xml:"type,attr"`
	Name         string        `xml:"name"`
	UUID         string        `xml:"uuid"`
	Memory       sizeXML       `xml:"memory"`
	CurrentMem   sizeXML       `xml:"currentMemory"`
	MaxMemory    *maxMemoryXML `xml:"maxMemory,omitempty"`
	VCPU         vcpuXML       `xml:"vcpu"`
	CPU          *cpuXML       `xml:"cpu,omitempty"`
	CPUTune      *cpuTuneXML   `xml:"cputune,omitempty"`
	OS           osXML         `xml:"os"`
	Devices      devicesXML    `xml:"devices"`
	NUMATune     *numaTuneXML  `xml:"numatune,omitempty"`
	MemoryBackup *struct{}     `xml:"-"`
}

type sizeXML struct {
	Unit  string `xml:"unit,attr"`
	Value int64  `xml:",chardata"`
}

type maxMemoryXML struct {
	Slots int    `xml:"slots,attr"`
	Unit  string `xml:"unit,attr"`
	Value int64  `xml:",chardata"`
}

type vcpuXML struct {
	Placement string `xml:"placement,attr,omitempty"`
	Value     int64  `xml:",chardata"`
}

type cpuModelXML struct {
	Fallback string `xml:"fallback,attr"`
	Value    string `xml:",chardata"`
}

type cpuTopologyXML struct {
	Sockets int64 `xml:"sockets,attr"`
	Cores   int64 `xml:"cores,attr"`
	Threads int64 `xml:"threads,attr"`
}

type numaCellXML struct {
	ID     int64  `xml:"id,attr"`
	CPUs   string `xml:"cpus,attr"`
	Memory int64  `xml:"memory,attr"`
	Unit   string `xml:"unit,attr"`
}

type numaXML struct {
	Cells []numaCellXML `xml:"cell"`
}

type cpuXML struct {
	Match    string       `xml:"match,attr,omitempty"`
	Mode     string       `xml:"mode,attr,omitempty"`
	Model    *cpuModelXML `xml:"model,omitempty"`
	Topology *cpuTopologyXML `xml:"topology,omitempty"`
	NUMA     *numaXML     `xml:"numa,omitempty"`
}

type vcpuPinXML struct {
	VCPU   int64  `xml:"vcpu,attr"`
	CPUSet string `xml:"cpuset,attr"`
}

type cpuTuneXML struct {
	VCPUPin []vcpuPinXML `xml:"vcpupin"`
}

type memnodeXML struct {
	CellID  int64  `xml:"cellid,attr"`
	Nodeset string `xml:"nodeset,attr"`
	Mode    string `xml:"mode,attr"`
}

type numaTuneMemoryXML struct {
	Mode    string `xml:"mode,attr"`
	Nodeset string `xml:"nodeset,attr"`
}

type numaTuneXML struct {
	Memory   numaTuneMemoryXML `xml:"memory"`
	MemNodes []memnodeXML      `xml:"memnode"`
}

type osXML struct {
	Type osTypeXML `xml:"type"`
}

type osTypeXML struct {
	Arch    string `xml:"arch,attr"`
	Machine string `xml:"machine,attr"`
	Value   string `xml:",chardata"`
}

type diskXML struct {
	Type   string       `xml:"type,attr"`
	Device string       `xml:"device,attr"`
	Source diskSourceXML `xml:"source"`
	Target diskTargetXML `xml:"target"`
}

type diskSourceXML struct {
	Dev string `xml:"dev,attr"`
}

type diskTargetXML struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

type interfaceXML struct {
	Type   string          `xml:"type,attr"`
	MAC    interfaceMACXML `xml:"mac"`
	Source interfaceSourceXML `xml:"source"`
	VLAN   *interfaceVLANXML  `xml:"vlan,omitempty"`
	Model  interfaceModelXML  `xml:"model"`
}

type interfaceMACXML struct {
	Address string `xml:"address,attr"`
}

type interfaceSourceXML struct {
	Bridge string `xml:"bridge,attr"`
}

type interfaceModelXML struct {
	Type string `xml:"type,attr"`
}

type interfaceVLANXML struct {
	Tags []vlanTagXML `xml:"tag"`
}

type vlanTagXML struct {
	ID int64 `xml:"id,attr"`
}

type devicesXML struct {
	Disks      []diskXML      `xml:"disk"`
	Interfaces []interfaceXML `xml:"interface"`
}

// BuildDomainXML synthesizes a complete domain definition for spec,
// applying memory hotplug, the CPU-model table, the VLAN tag, and NUMA
// spread placement in that order. NUMA placement adds a topology to the
// <cpu> element, creating it if the hw-model step did not.
func BuildDomainXML(spec Spec) (string, error) {
	name := fmt.Sprintf("%d_%s", spec.ObjectID, spec.Hostname)

	dom := domainXML{
		Type:       "kvm",
		Name:       name,
		UUID:       spec.UUID,
		Memory:     sizeXML{Unit: "MiB", Value: spec.MemoryMiB},
		CurrentMem: sizeXML{Unit: "MiB", Value: spec.MemoryMiB},
		VCPU:       vcpuXML{Value: VCPUCount(spec.VMNumCPU, spec.HVNumCPU)},
		OS:         osXML{Type: osTypeXML{Arch: "x86_64", Machine: "pc", Value: "hvm"}},
		Devices: devicesXML{
			Disks: []diskXML{{
				Type:   "block",
				Device: "disk",
				Source: diskSourceXML{Dev: spec.DiskPath},
				Target: diskTargetXML{Dev: "vda", Bus: "virtio"},
			}},
			Interfaces: []interfaceXML{{
				Type:   "bridge",
				MAC:    interfaceMACXML{Address: MACAddress(spec.ObjectID)},
				Source: interfaceSourceXML{Bridge: "br0"},
				Model:  interfaceModelXML{Type: "virtio"},
			}},
		},
	}

	if spec.MemHotplug {
		dom.MaxMemory = &maxMemoryXML{Slots: MaxMemorySlots, Unit: "MiB", Value: spec.MaxMemMiB}
		dom.VCPU.Placement = "static"
	}

	if model, ok := CPUModelForHWModel(spec.HWModel); ok {
		dom.CPU = &cpuXML{
			Match: "exact", Mode: "custom",
			Model: &cpuModelXML{Fallback: "allow", Value: model},
		}
	}

	if spec.VLANTag >= 0 {
		dom.Devices.Interfaces[0].VLAN = &interfaceVLANXML{Tags: []vlanTagXML{{ID: spec.VLANTag}}}
	}

	if len(spec.NUMANodes) > 0 {
		if err := applyNUMAPlacement(&dom, spec); err != nil {
			return "", err
		}
	}

	return marshalPretty(dom)
}

// applyNUMAPlacement ports kvm_place_numa's "spread" branch: static vcpu
// placement, a <cpu><topology> sized to the node count, interleaved
// <cputune><vcpupin>, one <numa><cell> per node, and a <numatune> unless
// hugepages are in use.
func applyNUMAPlacement(dom *domainXML, spec Spec) error {
	numNodes := int64(len(spec.NUMANodes))
	numVCPUs := dom.VCPU.Value

	dom.VCPU.Placement = "static"

	if dom.CPU == nil {
		dom.CPU = &cpuXML{}
	}
	dom.CPU.Topology = &cpuTopologyXML{Sockets: numNodes, Cores: numVCPUs / numNodes, Threads: 1}

	cputune := &cpuTuneXML{}
	for i := int64(0); i < numVCPUs; i++ {
		cputune.VCPUPin = append(cputune.VCPUPin, vcpuPinXML{
			VCPU: i, CPUSet: spec.NUMANodes[i%numNodes].CPUSet,
		})
	}
	dom.CPUTune = cputune

	numa := &numaXML{}
	memPerNode := spec.MemoryMiB / numNodes
	for i := int64(0); i < numNodes; i++ {
		var cpus []string
		for v := i; v < numVCPUs; v += numNodes {
			cpus = append(cpus, strconv.FormatInt(v, 10))
		}
		numa.Cells = append(numa.Cells, numaCellXML{
			ID: i, CPUs: strings.Join(cpus, ","), Memory: memPerNode, Unit: "MiB",
		})
	}
	dom.CPU.NUMA = numa

	if !spec.Hugepages {
		nodeset := make([]string, numNodes)
		for i := int64(0); i < numNodes; i++ {
			nodeset[i] = strconv.FormatInt(i, 10)
		}
		numatune := &numaTuneXML{Memory: numaTuneMemoryXML{Mode: "strict", Nodeset: strings.Join(nodeset, ",")}}
		for i := int64(0); i < numNodes; i++ {
			numatune.MemNodes = append(numatune.MemNodes, memnodeXML{CellID: i, Nodeset: strconv.FormatInt(i, 10), Mode: "preferred"})
		}
		dom.NUMATune = numatune
	}
	return nil
}

// marshalPretty renders dom as whitespace-normalized, indented XML,
// matching the original's `re.sub('>\s+<', '><', ...)` followed by
// minidom pretty-printing.
func marshalPretty(dom domainXML) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(dom); err != nil {
		return "", fmt.Errorf("domainxml: marshal: %w", err)
	}
	return buf.String(), nil
}

// SetVCPUs applies a live vCPU count change: verifies n does not exceed
// the domain's configured maximum, calls DomainSetVcpusFlags with both
// the live and persistent-config flags, then re-pins every vCPU,
// interleaved mod numNodes and zeroed above min(srcNumCPU, dstNumCPU) so
// the pinning stays valid regardless of which hypervisor the domain
// later migrates to, mirroring spec.md §4.H's live vCPU change contract.
func SetVCPUs(ctx context.Context, virt *golibvirt.Libvirt, domain golibvirt.Domain, n, maxCPUs, numNodes, srcNumCPU, dstNumCPU int64) error {
	if n > maxCPUs {
		return igvmerr.InvalidState("set_vcpus", fmt.Errorf("requested %d vcpus exceeds domain maximum %d", n, maxCPUs))
	}

	const (
		affectLive   = 1
		affectConfig = 2
	)
	if err := virt.DomainSetVcpusFlags(domain, uint32(n), affectLive|affectConfig); err != nil {
		return igvmerr.Hypervisor("set_vcpus", err)
	}

	safeCPUs := srcNumCPU
	if dstNumCPU < safeCPUs {
		safeCPUs = dstNumCPU
	}
	maplen := (safeCPUs + 7) / 8
	for i := int64(0); i < n; i++ {
		cpumap := make([]byte, maplen)
		for pcpu := i % numNodes; pcpu < safeCPUs; pcpu += numNodes {
			cpumap[pcpu/8] |= 1 << uint(pcpu%8)
		}
		if err := virt.DomainPinVcpuFlags(domain, uint32(i), cpumap, affectLive|affectConfig); err != nil {
			return igvmerr.Hypervisor("set_vcpus_pin", err)
		}
	}
	return nil
}

// SetMemory applies a live memory change: if the domain has a balloon
// device, DomainSetMemoryFlags handles it directly; otherwise newMiB must
// exceed currentMiB and be evenly divisible by numNodes, and the
// difference is attached as one memory-backend DIMM per node, mirroring
// spec.md §4.H's DIMM-hotplug fallback.
func SetMemory(ctx context.Context, virt *golibvirt.Libvirt, domain golibvirt.Domain, currentMiB, newMiB, numNodes int64, hasBalloon bool) error {
	const (
		affectLive   = 1
		affectConfig = 2
	)
	if hasBalloon {
		if err := virt.DomainSetMemoryFlags(domain, uint64(newMiB*1024), affectLive|affectConfig); err == nil {
			return nil
		}
	}

	delta := newMiB - currentMiB
	if delta <= 0 {
		return igvmerr.InvalidState("set_memory", fmt.Errorf("dimm hotplug only grows memory, got delta %d MiB", delta))
	}
	if delta%numNodes != 0 {
		return igvmerr.InvalidState("set_memory", fmt.Errorf("memory delta %d MiB not divisible by %d NUMA nodes", delta, numNodes))
	}
	perNode := delta / numNodes

	for node := int64(0); node < numNodes; node++ {
		dimmXML := fmt.Sprintf(
			`<memory model='dimm'><target><size unit='MiB'>%d</size><node>%d</node></target></memory>`,
			perNode, node)
		if err := virt.DomainAttachDeviceFlags(domain, dimmXML, affectLive|affectConfig); err != nil {
			return igvmerr.Hypervisor("set_memory_dimm", err)
		}
	}
	return nil
}

// MigrationFlags is the KVM-to-KVM live migration flag bundle from
// spec.md §4.H: live copy, persist on the destination, change protection
// against concurrent config edits, a non-shared-disk copy (DRBD handles
// disk replication separately, so this only applies when migrating
// without it), auto-converge for dirty workloads, and abort-on-error
// instead of silently falling back to a paused migration.
func MigrationFlags() uint64 {
	return uint64(golibvirt.DomainMigrateLive) |
		uint64(golibvirt.DomainMigratePersistDest) |
		uint64(golibvirt.DomainMigrateChangeProtection) |
		uint64(golibvirt.DomainMigrateNonSharedDisk) |
		uint64(golibvirt.DomainMigrateAutoConverge) |
		uint64(golibvirt.DomainMigrateAbortOnError)
}

// migrationURIByOSPair mirrors "URI per OS-pair from a config table";
// every pair this module knows about migrates over a TLS-wrapped qemu
// transport so disk and memory pages never cross the network in the
// clear.
var migrationURIByOSPair = map[string]string{
	"default": "qemu+tls://%s/system",
}

// MigrationURI returns the destination connection URI for migrating to
// dstHost, keyed by an OS-pair hint (currently always "default" since the
// pack carries only one transport scheme; the table exists so a future
// OS-pair can override it without touching call sites).
func MigrationURI(dstHost, osPair string) string {
	tmpl, ok := migrationURIByOSPair[osPair]
	if !ok {
		tmpl = migrationURIByOSPair["default"]
	}
	return fmt.Sprintf(tmpl, dstHost)
}

// LiveMigrate starts a live migration of domain to destURI with flags,
// mirroring spec.md's "run on a background worker" by simply being
// blocking — the caller (internal/migration) is expected to invoke this
// in its own goroutine and poll jobStats from the foreground.
func LiveMigrate(ctx context.Context, virt *golibvirt.Libvirt, domain golibvirt.Domain, destURI string, flags uint64) error {
	params := []golibvirt.TypedParam{
		{Field: "uri", Value: golibvirt.TypedParamValue{I: destURI}},
	}
	if err := virt.DomainMigrateToURI3(domain, destURI, params, uint32(flags)); err != nil {
		return igvmerr.MigrationErr("live_migrate", err)
	}
	return nil
}

// AbortMigration cancels an in-flight migration job, mirroring
// kvm.py's `domain.abortJob()` call from the KeyboardInterrupt handler.
func AbortMigration(ctx context.Context, virt *golibvirt.Libvirt, domain golibvirt.Domain) error {
	if err := virt.DomainAbortJob(domain); err != nil {
		return igvmerr.MigrationAborted("abort_migration", err)
	}
	return nil
}
