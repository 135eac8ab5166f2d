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

package transport

import (
	"context"
	"path"
)

// ChrootExecutor runs commands against a VM's rootfs mounted on its
// hypervisor, before the guest is reachable over the network. It wraps
// the hypervisor's own Executor (reaching the hypervisor itself over
// SSH) and prefixes every path with the mount point, so VM.Transport can
// switch between this and a direct SSHExecutor to the booted guest
// without its callers knowing which is in play — the "mounted flag"
// dual-transport design the VM object relies on.
type ChrootExecutor struct {
	// HVHost is the hypervisor hosting the mount; Run/Put/Get's host
	// parameter is ignored in favor of this fixed target.
	HVHost string
	// MountPath is the directory the VM's rootfs is mounted at on HVHost.
	MountPath string
	// Host runs commands against HVHost itself.
	Host Executor
}

func (e *ChrootExecutor) Run(ctx context.Context, _, command string, opts RunOptions) (string, error) {
	chrootCmd := "chroot " + shellQuote(e.MountPath) + " /bin/bash -c " + shellQuote(command)
	return e.Host.Run(ctx, e.HVHost, chrootCmd, opts)
}

func (e *ChrootExecutor) Put(ctx context.Context, _, remotePath string, contents []byte, mode uint32) error {
	return e.Host.Put(ctx, e.HVHost, path.Join(e.MountPath, remotePath), contents, mode)
}

func (e *ChrootExecutor) Get(ctx context.Context, _, remotePath string) ([]byte, error) {
	return e.Host.Get(ctx, e.HVHost, path.Join(e.MountPath, remotePath))
}

var _ Executor = (*ChrootExecutor)(nil)
var _ Executor = (*SSHExecutor)(nil)
