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

//go:generate moq -out gateway_mock.go . Gateway

package inventory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/Query when no record matches.
var ErrNotFound = errors.New("inventory: not found")

// ErrMultipleFound is returned by Get when more than one record matches
// a filter expected to identify a single object.
var ErrMultipleFound = errors.New("inventory: multiple records found")

// ErrCommitConflict is returned by Commit when the record changed on the
// server since it was fetched. Commit does not retry, and no caller in
// this module retries on it.
var ErrCommitConflict = errors.New("inventory: commit conflict")

// Filters selects records by exact attribute match; each value is sent
// as its fmt "%v" string, so a nil value is sent as "<nil>".
type Filters map[string]any

// Gateway is the abstract query/commit interface over the external
// inventory system. The core never caches records across operations
// without re-reading them; Cache below provides the one permitted
// short-lived exception, scoped to a single pipeline run.
type Gateway interface {
	// Query returns every record matching filters.
	Query(ctx context.Context, kind string, filters Filters) ([]*Record, error)
	// Get returns exactly one record, or ErrNotFound / ErrMultipleFound.
	Get(ctx context.Context, kind, hostname string) (*Record, error)
	// Commit writes back every dirty attribute on r. It is atomic: either
	// every dirty attribute lands, or none do.
	Commit(ctx context.Context, kind string, r *Record) error
	// Delete removes a record, e.g. a retired VM's inventory object.
	Delete(ctx context.Context, kind, hostname string) error
}

const (
	KindVM         = "vm"
	KindHypervisor = "hypervisor"
)
