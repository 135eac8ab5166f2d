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

//go:generate moq -out executor_mock.go . Executor

// Package transport abstracts running commands and moving files against a
// remote host or a mounted chroot, so that the rest of the orchestration
// engine never depends on how a VM is currently reachable (over SSH once
// booted, over a bind-mounted rootfs while being built).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// RunOptions controls one Run call.
type RunOptions struct {
	// Silent suppresses command echo to the log.
	Silent bool
	// WarnOnly demotes a non-zero exit from a RemoteCommandError to a
	// logged warning; Run still returns the captured output.
	WarnOnly bool
	// Sudo prefixes the command with sudo -n.
	Sudo bool
	// Shell overrides the default "/bin/bash -c" wrapper.
	Shell string
}

// Executor runs a command on a host and moves files to and from it;
// templates are rendered by RenderTemplate below, not by an Executor.
// One real implementation
// talks over SSH (Go for PersistentTransport: §4.B); a chroot
// implementation operates over a bind-mounted rootfs during build before
// the guest can be reached over the network; an Emulator backs tests.
type Executor interface {
	// Run executes command on host and returns its captured stdout.
	Run(ctx context.Context, host, command string, opts RunOptions) (string, error)
	// Put uploads local file contents to remotePath on host with the
	// given file mode.
	Put(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error
	// Get downloads remotePath's contents from host.
	Get(ctx context.Context, host, remotePath string) ([]byte, error)
}

// RenderTemplate renders the named template text with vars. It has no
// host dependency, so it is a free function rather than an Executor
// method; every Executor implementation uses it the same way.
func RenderTemplate(name, tmplText string, vars any) ([]byte, error) {
	tmpl, err := template.New(name).Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// RemoteCommandError is returned by Run when the remote command exits
// non-zero and WarnOnly was not set.
type RemoteCommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("remote command failed on %s (exit %d): %s: %s", e.Host, e.ExitStatus, e.Command, e.Stderr)
}
