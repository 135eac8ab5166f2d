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

// Package igvmerr defines the typed error taxonomy shared by every
// orchestration component, so that the CLI dispatcher can map any failure
// to an exit code and a single human-readable diagnostic line.
package igvmerr

import "fmt"

// Kind identifies one of the fixed error categories a pipeline can fail with.
type Kind string

const (
	KindConfig                Kind = "config"
	KindInvalidState          Kind = "invalid_state"
	KindHypervisor            Kind = "hypervisor"
	KindNetwork               Kind = "network"
	KindStorage               Kind = "storage"
	KindRemoteCommand          Kind = "remote_command"
	KindInconsistentAttribute Kind = "inconsistent_attribute"
	KindTimeout               Kind = "timeout"
	KindMigrationAborted      Kind = "migration_aborted"
	KindMigrationError        Kind = "migration_error"
)

// Error wraps an underlying cause with a Kind and the step that failed.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func Config(step string, err error) *Error       { return New(KindConfig, step, err) }
func InvalidState(step string, err error) *Error { return New(KindInvalidState, step, err) }
func Hypervisor(step string, err error) *Error    { return New(KindHypervisor, step, err) }
func Network(step string, err error) *Error       { return New(KindNetwork, step, err) }
func Storage(step string, err error) *Error       { return New(KindStorage, step, err) }
func RemoteCommand(step string, err error) *Error { return New(KindRemoteCommand, step, err) }
func InconsistentAttribute(step string, err error) *Error {
	return New(KindInconsistentAttribute, step, err)
}
func Timeout(step string, err error) *Error          { return New(KindTimeout, step, err) }
func MigrationAborted(step string, err error) *Error { return New(KindMigrationAborted, step, err) }
func MigrationErr(step string, err error) *Error     { return New(KindMigrationError, step, err) }

// ExitCode maps an error's Kind to a CLI process exit code. Unrecognized or
// nil errors map to the generic non-zero code 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !As(err, &e) {
		return 1
	}
	switch e.Kind {
	case KindInvalidState:
		return 2
	case KindTimeout:
		return 3
	case KindMigrationAborted:
		return 130
	default:
		return 1
	}
}

// As is a thin indirection over errors.As kept local so callers of this
// package never need a second import for the common case.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
