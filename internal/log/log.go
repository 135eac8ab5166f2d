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

// Package log is a thin facade over controller-runtime's logr-based
// logging, kept purely for its logging conventions without pulling in the
// rest of controller-runtime's manager/client machinery.
package log

import (
	"context"

	"github.com/go-logr/logr"
	logger "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Setup installs a zap-backed logr sink as the package-level logger.
// verbose enables debug-level output, matching the CLI's --verbose flag.
func Setup(verbose bool) {
	opts := zap.Options{Development: verbose}
	logger.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
}

// FromContext returns the logger stored in ctx, or the package logger.
func FromContext(ctx context.Context, keysAndValues ...any) logr.Logger {
	return logger.FromContext(ctx, keysAndValues...)
}

// Log is the package-level logger, usable before a context is available.
var Log = logger.Log
