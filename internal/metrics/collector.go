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

package metrics

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/Tinkoff/libvirt-exporter/libvirtSchema"
	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/innogames/igvm/internal/libvirt"
	"github.com/innogames/igvm/internal/log"
)

// Collector scrapes libvirt domain statistics from every hypervisor
// connection it holds into Prometheus metrics, for igvmd's housekeeping
// daemon to serve.
type Collector struct {
	Connections map[string]*libvirt.Connection
}

// NewCollector returns a Collector scraping the given hypervisor
// connections, keyed by hostname.
func NewCollector(conns map[string]*libvirt.Connection) *Collector {
	return &Collector{Connections: conns}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- domainInfoMetaDesc
	ch <- maxMemBytesDesc
	ch <- memoryUsageBytesDesc
	ch <- nrVirtCPUDesc
	ch <- cpuTimeDesc
	ch <- domainStateDesc
	ch <- vcpuStateDesc
	ch <- vcpuTimeDesc
	ch <- vcpuCPUDesc
	ch <- blockMetaDesc
	ch <- reachableDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for host, conn := range c.Connections {
		virt, err := conn.Raw(ctx)
		if err != nil {
			log.Log.Info("metrics: failed to connect to hypervisor", "host", host, "error", err.Error())
			ch <- prometheus.MustNewConstMetric(reachableDesc, prometheus.GaugeValue, 0, host)
			continue
		}
		ch <- prometheus.MustNewConstMetric(reachableDesc, prometheus.GaugeValue, 1, host)
		collectAllDomainStats(ch, host, virt)
	}
}

func collectAllDomainStats(ch chan<- prometheus.Metric, host string, virt *golibvirt.Libvirt) {
	domains, _, err := virt.ConnectListAllDomains(1,
		golibvirt.ConnectListDomainsActive|golibvirt.ConnectListDomainsInactive)
	if err != nil {
		log.Log.Info("metrics: failed to list domains", "host", host, "error", err.Error())
		return
	}
	for _, domain := range domains {
		collectDomainStats(ch, host, virt, domain)
		collectDomainMeta(ch, host, virt, domain)
		collectCPUStats(ch, host, virt, domain)
		collectBlockStats(ch, host, virt, domain)
	}
}

func collectDomainStats(ch chan<- prometheus.Metric, host string, virt *golibvirt.Libvirt, domain golibvirt.Domain) {
	state, maxmem, rmem, nvir, cputime, err := virt.DomainGetInfo(domain)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(maxMemBytesDesc, prometheus.GaugeValue, float64(maxmem)*1024, host, domain.Name)
	ch <- prometheus.MustNewConstMetric(memoryUsageBytesDesc, prometheus.GaugeValue, float64(rmem)*1024, host, domain.Name)
	ch <- prometheus.MustNewConstMetric(nrVirtCPUDesc, prometheus.GaugeValue, float64(nvir), host, domain.Name)
	ch <- prometheus.MustNewConstMetric(cpuTimeDesc, prometheus.CounterValue, float64(cputime)/1e9, host, domain.Name)
	ch <- prometheus.MustNewConstMetric(domainStateDesc, prometheus.GaugeValue, float64(state), host, domain.Name)
}

func collectDomainMeta(ch chan<- prometheus.Metric, host string, virt *golibvirt.Libvirt, domain golibvirt.Domain) {
	xmlDesc, err := virt.DomainGetXMLDesc(domain, 0)
	if err != nil {
		return
	}
	var desc libvirtSchema.Domain
	if err := xml.Unmarshal([]byte(xmlDesc), &desc); err != nil {
		return
	}
	u, err := uuid.FromBytes(domain.UUID[:])
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(
		domainInfoMetaDesc, prometheus.GaugeValue, 1,
		host, domain.Name, u.String(),
		desc.Metadata.NovaInstance.NovaName,
		desc.Metadata.NovaInstance.NovaFlavor.FlavorName,
		desc.Metadata.NovaInstance.NovaOwner.NovaUser.UserName,
		desc.Metadata.NovaInstance.NovaOwner.NovaUser.UserUUID,
		desc.Metadata.NovaInstance.NovaOwner.NovaProject.ProjectName,
		desc.Metadata.NovaInstance.NovaOwner.NovaProject.ProjectUUID,
		desc.Metadata.NovaInstance.NovaRoot.RootType,
		desc.Metadata.NovaInstance.NovaRoot.RootUUID)
}

func collectBlockStats(ch chan<- prometheus.Metric, host string, virt *golibvirt.Libvirt, domain golibvirt.Domain) {
	statsType := golibvirt.DomainStatsState | golibvirt.DomainStatsCPUTotal | golibvirt.DomainStatsBalloon |
		golibvirt.DomainStatsVCPU | golibvirt.DomainStatsInterface | golibvirt.DomainStatsBlock |
		golibvirt.DomainStatsPerf | golibvirt.DomainStatsIothread | golibvirt.DomainStatsMemory |
		golibvirt.DomainStatsDirtyrate
	flags := golibvirt.ConnectGetAllDomainsStatsRunning | golibvirt.ConnectGetAllDomainsStatsShutoff

	stats, err := virt.ConnectGetAllDomainStats([]golibvirt.Domain{domain}, uint32(statsType), uint32(flags))
	if err != nil || len(stats) == 0 {
		return
	}

	byID := make(map[string]*blockStats)
	for _, par := range stats[0].Params {
		parts := strings.Split(par.Field, ".")
		if len(parts) < 3 || parts[0] != "block" {
			continue
		}
		s, ok := byID[parts[1]]
		if !ok {
			s = &blockStats{id: parts[1]}
			byID[parts[1]] = s
		}
		switch parts[2] {
		case "name":
			s.name, _ = par.Value.I.(string)
		case "physical":
			s.physical, _ = par.Value.I.(string)
		case "capacity":
			s.capacity, _ = par.Value.I.(string)
		case "allocation":
			s.allocation, _ = par.Value.I.(string)
		case "path":
			s.path, _ = par.Value.I.(string)
		}
	}

	for _, s := range byID {
		if s.name == "hdc" || s.name == "hda" {
			continue
		}
		ch <- prometheus.MustNewConstMetric(blockMetaDesc, prometheus.GaugeValue, 1,
			host, domain.Name, s.name, s.path, s.allocation, s.capacity, s.physical)
	}
}

func collectCPUStats(ch chan<- prometheus.Metric, host string, virt *golibvirt.Libvirt, domain golibvirt.Domain) {
	stats, _, err := virt.DomainGetVcpus(domain, 0, 0)
	if err != nil {
		return
	}
	for _, cpustat := range stats {
		vcpu := strconv.FormatInt(int64(cpustat.Number), 10)
		ch <- prometheus.MustNewConstMetric(vcpuStateDesc, prometheus.GaugeValue, float64(cpustat.State), host, domain.Name, vcpu)
		ch <- prometheus.MustNewConstMetric(vcpuTimeDesc, prometheus.CounterValue, float64(cpustat.CPUTime)/1e9, host, domain.Name, vcpu)
		ch <- prometheus.MustNewConstMetric(vcpuCPUDesc, prometheus.GaugeValue, float64(cpustat.CPU), host, domain.Name, vcpu)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
