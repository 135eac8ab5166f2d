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

package vm

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/innogames/igvm/internal/inventory"
	"github.com/innogames/igvm/internal/transport"
)

func newTestVM(t *testing.T) (*VM, *transport.Emulator) {
	t.Helper()
	exec := transport.NewEmulator(context.Background())
	rec := inventory.NewRecord(map[string]any{
		"hostname":  "web01",
		"intern_ip": "10.0.0.5",
	})
	v := New(rec, "hv01", exec)
	v.Mount("/mnt/web01")
	return v, exec
}

func TestSetHostnameWritesChrootedCommand(t *testing.T) {
	v, exec := newTestVM(t)
	var ran string
	exec.RunFunc = func(ctx context.Context, host, command string, opts transport.RunOptions) (string, error) {
		ran = command
		return "", nil
	}
	if err := v.SetHostname(context.Background()); err != nil {
		t.Fatalf("SetHostname: %v", err)
	}
	if !strings.Contains(ran, "chroot '/mnt/web01'") || !strings.Contains(ran, "echo web01 > /etc/hostname") {
		t.Fatalf("unexpected command: %s", ran)
	}
}

func TestCreateFstabRendersTemplate(t *testing.T) {
	v, exec := newTestVM(t)
	var putPath string
	var putContents []byte
	exec.PutFunc = func(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error {
		putPath = remotePath
		putContents = contents
		return nil
	}
	if err := v.CreateFstab(context.Background(), "/dev/vda"); err != nil {
		t.Fatalf("CreateFstab: %v", err)
	}
	if putPath != "/mnt/web01/etc/fstab" {
		t.Fatalf("unexpected put path: %s", putPath)
	}
	if !strings.Contains(string(putContents), "/dev/vda / xfs defaults") {
		t.Fatalf("unexpected fstab contents: %s", putContents)
	}
}

func TestAllocateSwap(t *testing.T) {
	v, exec := newTestVM(t)
	var ran []string
	exec.RunFunc = func(ctx context.Context, host, command string, opts transport.RunOptions) (string, error) {
		ran = append(ran, command)
		return "", nil
	}
	if err := v.AllocateSwap(context.Background()); err != nil {
		t.Fatalf("AllocateSwap: %v", err)
	}
	if len(ran) != 2 || !strings.Contains(ran[0], "dd if=/dev/zero") || !strings.Contains(ran[1], "mkswap") {
		t.Fatalf("unexpected commands: %v", ran)
	}
}

func TestCreateSSHHostKeysRecordsFingerprints(t *testing.T) {
	v, exec := newTestVM(t)
	pubKey := "ssh-ed25519 " + base64.StdEncoding.EncodeToString([]byte("fake-key-material")) + " root@web01"
	exec.GetFunc = func(ctx context.Context, host, remotePath string) ([]byte, error) {
		return []byte(pubKey), nil
	}
	if err := v.CreateSSHHostKeys(context.Background()); err != nil {
		t.Fatalf("CreateSSHHostKeys: %v", err)
	}
	fps := v.Record.GetStringSet("sshfp")
	if len(fps) != len(sshKeyTypes) {
		t.Fatalf("expected %d fingerprints, got %d: %v", len(sshKeyTypes), len(fps), fps)
	}
	for _, fp := range fps {
		if !strings.Contains(fp, "sha1:") || !strings.Contains(fp, "sha256:") {
			t.Fatalf("fingerprint missing digest: %s", fp)
		}
	}
}

func TestRunPuppetClearsCertWhenRequested(t *testing.T) {
	v, exec := newTestVM(t)
	var sawClean bool
	exec.RunFunc = func(ctx context.Context, host, command string, opts transport.RunOptions) (string, error) {
		if strings.Contains(command, "puppet cert clean") {
			sawClean = true
		}
		return "", nil
	}
	if err := v.RunPuppet(context.Background(), "master.puppet.ig.local", true); err != nil {
		t.Fatalf("RunPuppet: %v", err)
	}
	if !sawClean {
		t.Fatal("expected a cert-clean command to run")
	}
}
