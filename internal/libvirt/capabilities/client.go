/*
SPDX-FileCopyrightText: Copyright 2025 SAP SE or an SAP affiliate company and cobaltcore-dev contributors
SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, LibVirtVersion 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package capabilities

import (
	"encoding/xml"
	"fmt"

	libvirt "github.com/digitalocean/go-libvirt"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Status summarizes a hypervisor's host capabilities for selector and
// capacity-accounting purposes.
type Status struct {
	HostCpuArch string
	HostMemory  resource.Quantity
	HostCpus    resource.Quantity
}

// Client that returns the capabilities of the host a connection is attached to.
type Client interface {
	// Get returns the capabilities status of the host virt is connected to.
	Get(virt *libvirt.Libvirt) (Status, error)
}

// Implementation of the Client interface.
type client struct{}

// NewClient creates a new capabilities client.
func NewClient() Client {
	return &client{}
}

// Get returns the capabilities of the host virt is connected to.
func (m *client) Get(virt *libvirt.Libvirt) (Status, error) {
	capabilitiesXMLBytes, err := virt.Capabilities()
	if err != nil {
		log.Log.Error(err, "failed to get libvirt capabilities")
		return Status{}, err
	}
	var capabilities Capabilities
	if err := xml.Unmarshal(capabilitiesXMLBytes, &capabilities); err != nil {
		log.Log.Error(err, "failed to unmarshal libvirt capabilities")
		return Status{}, err
	}
	return convert(capabilities)
}

// Emulated capabilities client returning an embedded capabilities xml.
type clientEmulator struct{}

// NewClientEmulator creates a new emulated capabilities client.
func NewClientEmulator() Client {
	return &clientEmulator{}
}

// Get returns the capabilities of the embedded example host.
func (c *clientEmulator) Get(virt *libvirt.Libvirt) (Status, error) {
	var capabilities Capabilities
	if err := xml.Unmarshal(exampleXML, &capabilities); err != nil {
		log.Log.Error(err, "failed to unmarshal example capabilities")
		return Status{}, err
	}
	return convert(capabilities)
}

// convert sums the per-NUMA-cell memory and vcpu counts from the libvirt
// capabilities document into host-wide totals.
func convert(in Capabilities) (out Status, err error) {
	out.HostCpuArch = in.Host.CPU.Arch
	totalMemory := resource.NewQuantity(0, resource.BinarySI)
	totalCpus := resource.NewQuantity(0, resource.DecimalSI)
	for _, cell := range in.Host.Topology.CellSpec.Cells {
		mem, err := cell.Memory.AsQuantity()
		if err != nil {
			return Status{}, err
		}
		totalMemory.Add(mem)
		cpu := resource.NewQuantity(cell.CPUs.Num, resource.DecimalSI)
		if cpu == nil {
			return Status{}, fmt.Errorf("invalid CPU count for cell %d", cell.ID)
		}
		totalCpus.Add(*cpu)
	}
	out.HostMemory = *totalMemory
	out.HostCpus = *totalCpus
	return out, nil
}
