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

package housekeeping

import (
	"context"
	"testing"
	"time"

	"github.com/innogames/igvm/internal/cliapp"
	"github.com/innogames/igvm/internal/inventory"
)

func TestReapAbandonedLocksClearsStaleLock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-3 * time.Hour).Format(time.RFC3339)

	hv1 := inventory.NewRecord(map[string]any{"hostname": "hv01", "igvm_locked": stale})
	hv2 := inventory.NewRecord(map[string]any{"hostname": "hv02"})

	var committed []*inventory.Record
	gw := &inventory.GatewayMock{
		QueryFunc: func(ctx context.Context, kind string, filters inventory.Filters) ([]*inventory.Record, error) {
			return []*inventory.Record{hv1, hv2}, nil
		},
		CommitFunc: func(ctx context.Context, kind string, r *inventory.Record) error {
			if kind != inventory.KindHypervisor {
				t.Fatalf("unexpected commit kind %s", kind)
			}
			committed = append(committed, r)
			return nil
		},
	}
	app := &cliapp.App{Gateway: gw}

	if err := ReapAbandonedLocks(context.Background(), app, now); err != nil {
		t.Fatalf("ReapAbandonedLocks: %v", err)
	}

	if len(committed) != 1 || committed[0].GetString("hostname") != "hv01" {
		t.Fatalf("expected exactly hv01 to be committed, got %v", committed)
	}
	if hv1.GetString("igvm_locked") != "" {
		t.Fatalf("expected igvm_locked to be cleared, got %q", hv1.GetString("igvm_locked"))
	}
}

func TestReapAbandonedLocksLeavesFreshLock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-5 * time.Minute).Format(time.RFC3339)
	hv := inventory.NewRecord(map[string]any{"hostname": "hv01", "igvm_locked": fresh})

	gw := &inventory.GatewayMock{
		QueryFunc: func(ctx context.Context, kind string, filters inventory.Filters) ([]*inventory.Record, error) {
			return []*inventory.Record{hv}, nil
		},
		CommitFunc: func(ctx context.Context, kind string, r *inventory.Record) error {
			t.Fatal("should not commit a lock still within its timeout")
			return nil
		},
	}
	app := &cliapp.App{Gateway: gw}

	if err := ReapAbandonedLocks(context.Background(), app, now); err != nil {
		t.Fatalf("ReapAbandonedLocks: %v", err)
	}
	if hv.GetString("igvm_locked") != fresh {
		t.Fatalf("lock should be untouched, got %q", hv.GetString("igvm_locked"))
	}
}

func TestReapAbandonedLocksCollectsCommitErrorsAndContinues(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-3 * time.Hour).Format(time.RFC3339)
	hv1 := inventory.NewRecord(map[string]any{"hostname": "hv01", "igvm_locked": stale})
	hv2 := inventory.NewRecord(map[string]any{"hostname": "hv02", "igvm_locked": stale})

	var commits []string
	gw := &inventory.GatewayMock{
		QueryFunc: func(ctx context.Context, kind string, filters inventory.Filters) ([]*inventory.Record, error) {
			return []*inventory.Record{hv1, hv2}, nil
		},
		CommitFunc: func(ctx context.Context, kind string, r *inventory.Record) error {
			commits = append(commits, r.GetString("hostname"))
			if r.GetString("hostname") == "hv01" {
				return context.DeadlineExceeded
			}
			return nil
		},
	}
	app := &cliapp.App{Gateway: gw}

	err := ReapAbandonedLocks(context.Background(), app, now)
	if err == nil {
		t.Fatal("expected an error from the failed commit")
	}
	if len(commits) != 2 {
		t.Fatalf("expected both hypervisors to be processed despite the first commit failing, got %v", commits)
	}
}
