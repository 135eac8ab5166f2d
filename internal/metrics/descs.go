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

// Package metrics exposes per-hypervisor libvirt domain statistics as
// Prometheus metrics, for igvmd's housekeeping scrape endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainInfoMetaDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "meta"),
		"Domain metadata",
		[]string{"hypervisor", "domain", "uuid", "instance_name", "flavor", "user_name", "user_uuid", "project_name", "project_uuid", "root_type", "root_uuid"},
		nil)
	maxMemBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "maximum_memory_bytes"),
		"Maximum allowed memory of the domain, in bytes.",
		[]string{"hypervisor", "domain"},
		nil)
	memoryUsageBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "memory_usage_bytes"),
		"Memory usage of the domain, in bytes.",
		[]string{"hypervisor", "domain"},
		nil)
	nrVirtCPUDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "virtual_cpus"),
		"Number of virtual CPUs for the domain.",
		[]string{"hypervisor", "domain"},
		nil)
	cpuTimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "cpu_time_seconds_total"),
		"Amount of CPU time used by the domain, in seconds.",
		[]string{"hypervisor", "domain"},
		nil)
	domainStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_info", "vstate"),
		"Virtual domain state. 0: no state, 1: running, 2: blocked, 3: paused,"+
			" 4: shutting down, 5: shut off, 6: crashed, 7: suspended by pm",
		[]string{"hypervisor", "domain"},
		nil)

	vcpuStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_vcpu", "state"),
		"VCPU state. 0: offline, 1: running, 2: blocked",
		[]string{"hypervisor", "domain", "vcpu"},
		nil)
	vcpuTimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_vcpu", "time_seconds_total"),
		"Amount of CPU time used by the domain's VCPU, in seconds.",
		[]string{"hypervisor", "domain", "vcpu"},
		nil)
	vcpuCPUDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_vcpu", "cpu"),
		"Real CPU number, or one of the values from virVcpuHostCpuState",
		[]string{"hypervisor", "domain", "vcpu"},
		nil)

	blockMetaDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "domain_block", "meta"),
		"Block device metadata info: device name, path, allocation, capacity and physical size.",
		[]string{"hypervisor", "domain", "device_name", "path", "allocation", "capacity", "physical"},
		nil)

	reachableDesc = prometheus.NewDesc(
		prometheus.BuildFQName("igvm", "hypervisor", "reachable"),
		"Whether the last libvirt scrape of this hypervisor succeeded.",
		[]string{"hypervisor"},
		nil)
)

type blockStats struct {
	id         string
	capacity   string
	allocation string
	physical   string
	path       string
	name       string
}
