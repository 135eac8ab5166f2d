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

package systemd

import (
	"context"

	"github.com/innogames/igvm/internal/log"
)

// NewSystemdEmulator returns an Interface double that logs every call and
// runs the shutdown callback immediately instead of waiting on a real
// login1 PrepareForShutdown signal, letting igvmd be exercised off of a
// developer workstation with no systemd/dbus available.
func NewSystemdEmulator(ctx context.Context) *InterfaceMock {
	logger := log.FromContext(ctx, "component", "systemd-emulator")
	return &InterfaceMock{
		CloseFunc: func() {
			logger.Info("Close called")
		},
		IsConnectedFunc: func() bool {
			logger.Info("IsConnected called")
			return true
		},
		EnableShutdownInhibitFunc: func(ctx context.Context, cb func(context.Context) error) error {
			logger.Info("EnableShutdownInhibit called, running callback immediately")
			return cb(ctx)
		},
		DisableShutdownInhibitFunc: func() error {
			logger.Info("DisableShutdownInhibit called")
			return nil
		},
	}
}
