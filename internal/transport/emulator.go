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

	"github.com/innogames/igvm/internal/log"
)

// Emulator is a func-field test double for Executor, in the same style
// as the rest of this module's emulators: every call is logged, and
// tests set only the func fields they care about, leaving the rest to
// their zero-value defaults below.
type Emulator struct {
	RunFunc func(ctx context.Context, host, command string, opts RunOptions) (string, error)
	PutFunc func(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error
	GetFunc func(ctx context.Context, host, remotePath string) ([]byte, error)
}

// NewEmulator returns an Emulator whose calls succeed trivially and are
// logged, matching the style of this module's other component doubles
// (internal/systemd's NewSystemdEmulator, each libvirt sub-client's
// NewClientEmulator).
func NewEmulator(ctx context.Context) *Emulator {
	l := log.FromContext(ctx, "transport", "emulator")
	return &Emulator{
		RunFunc: func(ctx context.Context, host, command string, opts RunOptions) (string, error) {
			l.Info("RunFunc called", "host", host, "command", command)
			return "", nil
		},
		PutFunc: func(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error {
			l.Info("PutFunc called", "host", host, "remotePath", remotePath)
			return nil
		},
		GetFunc: func(ctx context.Context, host, remotePath string) ([]byte, error) {
			l.Info("GetFunc called", "host", host, "remotePath", remotePath)
			return nil, nil
		},
	}
}

func (e *Emulator) Run(ctx context.Context, host, command string, opts RunOptions) (string, error) {
	return e.RunFunc(ctx, host, command, opts)
}

func (e *Emulator) Put(ctx context.Context, host, remotePath string, contents []byte, mode uint32) error {
	return e.PutFunc(ctx, host, remotePath, contents, mode)
}

func (e *Emulator) Get(ctx context.Context, host, remotePath string) ([]byte, error) {
	return e.GetFunc(ctx, host, remotePath)
}

var _ Executor = (*Emulator)(nil)
