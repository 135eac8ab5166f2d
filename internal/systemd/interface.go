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

//go:generate moq -out systemd_mock.go . Interface

package systemd

import "context"

type Interface interface {
	// Close closes the connection to the systemd D-Bus API.
	Close()

	// IsConnected returns true if the connection to the systemd D-Bus API is open.
	IsConnected() bool

	// EnableShutdownInhibit takes out a delay-inhibitor lock and runs cb
	// once login1 signals PrepareForShutdown, then releases the lock.
	EnableShutdownInhibit(ctx context.Context, cb func(context.Context) error) error

	// DisableShutdownInhibit releases the inhibitor lock ahead of time.
	DisableShutdownInhibit() error
}
