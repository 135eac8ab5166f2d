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

// Package migration drives and reports on a live KVM-to-KVM migration
// job: a 1-second poll loop over libvirt's job stats, carried over from
// the teacher's migration watch, generalized from patching a Migration
// custom resource to updating an in-memory Progress the CLI prints.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/innogames/igvm/internal/libvirt"
	"github.com/innogames/igvm/internal/log"
)

// Finished signals that a migration job is no longer running, whether it
// succeeded, failed, or was reaped before its terminal status could be
// read. Watch returns it instead of treating it as an error.
var Finished = errors.New("migration finished")

const (
	jobNone = iota
	jobBounded
	jobUnbounded
	jobCompleted
	jobFailed
	jobCancelled
)

const (
	opUnknown = iota
	opStart
	opSave
	opRestore
	opMigrationIn
	opMigrationOut
	opSnapshot
	opSnapshotRevert
	opDump
	opBackup
	opSnapshotDelete
)

var opNames = map[int32]string{
	opUnknown: "unknown", opStart: "start", opSave: "save", opRestore: "restore",
	opMigrationIn: "migration_in", opMigrationOut: "migration_out", opSnapshot: "snapshot",
	opSnapshotRevert: "snapshot_revert", opDump: "dump", opBackup: "backup",
	opSnapshotDelete: "snapshot_delete",
}

// Progress mirrors the teacher's MigrationStatus fields (DiskBps,
// DiskProcessed/Total, MemProcessed/Total, TimeElapsed/Remaining, ...),
// adapted from byte-counted and duration-counted strings into numeric
// fields the CLI formats itself.
type Progress struct {
	Type      string
	Operation string
	ErrMsg    string

	TimeElapsedMs   uint64
	TimeRemainingMs uint64
	DowntimeMs      uint64
	SetupTimeMs     uint64

	DataTotal     uint64
	DataProcessed uint64
	DataRemaining uint64

	MemTotal            uint64
	MemProcessed        uint64
	MemRemaining        uint64
	MemConstant         uint64
	MemNormal           uint64
	MemNormalBytes      uint64
	MemBps              uint64
	MemDirtyRate        uint64
	MemPageSize         uint64
	MemIteration        uint64
	MemPostcopyRequests uint64

	DiskTotal     uint64
	DiskProcessed uint64
	DiskRemaining uint64
	DiskBps       uint64

	AutoConvergeThrottlePct uint64
}

// Done reports whether p describes a job that has left the running
// state (completed, failed, cancelled, or turned into a success marker).
func (p Progress) Done() bool {
	switch p.Type {
	case "completed", "failed", "cancelled", "success":
		return true
	default:
		return false
	}
}

// String renders a one-line human summary, in the spirit of the spec's
// "{disk_processed/total, memory_processed/total}" log line.
func (p Progress) String() string {
	return fmt.Sprintf("type=%s disk=%s/%s mem=%s/%s elapsed=%s",
		p.Type,
		libvirt.ByteCountIEC(p.DiskProcessed), libvirt.ByteCountIEC(p.DiskTotal),
		libvirt.ByteCountIEC(p.MemProcessed), libvirt.ByteCountIEC(p.MemTotal),
		time.Duration(p.TimeElapsedMs)*time.Millisecond)
}

// Poll queries domain's current job stats on virt and returns the
// resulting Progress. completed asks for the completed-job variant of
// the stats once the job itself has stopped running, mirroring
// DomainJobStatsCompleted in the teacher's populateDomainJobInfo.
func Poll(virt *golibvirt.Libvirt, domain golibvirt.Domain, completed bool) (Progress, error) {
	var flags golibvirt.DomainGetJobStatsFlags
	if completed {
		flags = golibvirt.DomainJobStatsCompleted
	}

	rType, params, err := virt.DomainGetJobStats(domain, flags)
	if err != nil {
		return Progress{}, err
	}

	var p Progress
	switch rType {
	case jobNone:
		p.Type = "none"
		return p, fmt.Errorf("migration: domain not found")
	case jobBounded:
		p.Type = "bounded"
	case jobUnbounded:
		p.Type = "unbounded"
	case jobCompleted:
		p.Type = "completed"
	case jobFailed:
		p.Type = "failed"
	case jobCancelled:
		p.Type = "cancelled"
	}

	for _, param := range params {
		switch param.Field {
		case "operation":
			if op, ok := param.Value.I.(int32); ok {
				p.Operation = opNames[op]
			}
		case "time_elapsed":
			p.TimeElapsedMs = asUint64(param.Value.I)
		case "time_remaining":
			p.TimeRemainingMs = asUint64(param.Value.I)
		case "downtime":
			p.DowntimeMs = asUint64(param.Value.I)
		case "setup_time":
			p.SetupTimeMs = asUint64(param.Value.I)
		case "data_total":
			p.DataTotal = asUint64(param.Value.I)
		case "data_processed":
			p.DataProcessed = asUint64(param.Value.I)
		case "data_remaining":
			p.DataRemaining = asUint64(param.Value.I)
		case "memory_total":
			p.MemTotal = asUint64(param.Value.I)
		case "memory_processed":
			p.MemProcessed = asUint64(param.Value.I)
		case "memory_remaining":
			p.MemRemaining = asUint64(param.Value.I)
		case "memory_constant":
			p.MemConstant = asUint64(param.Value.I)
		case "memory_normal":
			p.MemNormal = asUint64(param.Value.I)
		case "memory_normal_bytes":
			p.MemNormalBytes = asUint64(param.Value.I)
		case "memory_bps":
			p.MemBps = asUint64(param.Value.I)
		case "memory_dirty_rate":
			p.MemDirtyRate = asUint64(param.Value.I)
		case "memory_page_size":
			p.MemPageSize = asUint64(param.Value.I)
		case "memory_iteration":
			p.MemIteration = asUint64(param.Value.I)
		case "memory_postcopy_requests":
			p.MemPostcopyRequests = asUint64(param.Value.I)
		case "disk_total":
			p.DiskTotal = asUint64(param.Value.I)
		case "disk_processed":
			p.DiskProcessed = asUint64(param.Value.I)
		case "disk_remaining":
			p.DiskRemaining = asUint64(param.Value.I)
		case "disk_bps":
			p.DiskBps = asUint64(param.Value.I)
		case "auto_converge_throttle":
			p.AutoConvergeThrottlePct = asUint64(param.Value.I)
		case "success":
			p.Type = "success"
		case "errmsg":
			if s, ok := param.Value.I.(string); ok {
				p.ErrMsg = s
			}
		}
	}
	return p, nil
}

// asUint64 widens whichever concrete integer type libvirt's typed param
// union carried, since DomainGetJobStats mixes uint32 and uint64 fields.
func asUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case uint32:
		return uint64(n)
	case int64:
		return uint64(n)
	case int32:
		return uint64(n)
	}
	return 0
}

// Watch polls domain's job stats on virt once per second, calling report
// with each Progress, until the job finishes or ctx is cancelled. It
// returns Finished when the job is done, or the poll error otherwise.
func Watch(ctx context.Context, virt *golibvirt.Libvirt, domain golibvirt.Domain, report func(Progress)) error {
	log := log.FromContext(ctx, "migration", "watch")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p, err := Poll(virt, domain, false)
			if err != nil {
				if isDomainNotFound(err) {
					log.Info("migration job details reaped, assuming completion")
					return Finished
				}
				return err
			}
			if report != nil {
				report(p)
			}
			if p.Done() {
				return Finished
			}
		}
	}
}

func isDomainNotFound(err error) bool {
	return err != nil && (contains(err.Error(), "Domain not found") || contains(err.Error(), "domain is not running"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
