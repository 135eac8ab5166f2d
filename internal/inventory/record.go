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

// Package inventory abstracts query and commit of VM and hypervisor
// records against the external serveradmin system of record. Records
// behave like dirty-tracking dictionaries: reads come from the last
// fetched snapshot, writes are buffered until Commit, and Commit is
// atomic per record.
package inventory

import (
	"k8s.io/apimachinery/pkg/api/resource"
)

// Record is an opaque, attribute-keyed view over one inventory object
// (a VM or a hypervisor). Values are typed at the point of use via the
// Get* accessors; Set marks an attribute dirty so Commit only sends
// changed fields.
type Record struct {
	attrs map[string]any
	dirty map[string]bool
}

// NewRecord wraps a freshly fetched attribute map. The returned Record
// starts clean: no attribute is considered dirty until Set is called.
func NewRecord(attrs map[string]any) *Record {
	return &Record{attrs: attrs, dirty: map[string]bool{}}
}

func (r *Record) Get(key string) (any, bool) {
	v, ok := r.attrs[key]
	return v, ok
}

func (r *Record) GetString(key string) string {
	v, _ := r.attrs[key].(string)
	return v
}

func (r *Record) GetInt(key string) int64 {
	switch v := r.attrs[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func (r *Record) GetQuantity(key string) resource.Quantity {
	if v, ok := r.attrs[key].(resource.Quantity); ok {
		return v
	}
	return resource.Quantity{}
}

func (r *Record) GetBool(key string) bool {
	v, _ := r.attrs[key].(bool)
	return v
}

func (r *Record) GetStringSet(key string) []string {
	switch v := r.attrs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Set marks key dirty with value v, to be sent on the next Commit.
func (r *Record) Set(key string, v any) {
	r.attrs[key] = v
	r.dirty[key] = true
}

// Dirty returns the attributes changed since the record was fetched or
// last committed.
func (r *Record) Dirty() map[string]any {
	out := make(map[string]any, len(r.dirty))
	for k := range r.dirty {
		out[k] = r.attrs[k]
	}
	return out
}

// ClearDirty marks the record clean, as if freshly fetched. Called by
// Gateway.Commit after a successful write.
func (r *Record) ClearDirty() {
	r.dirty = map[string]bool{}
}

// Attrs returns the full underlying attribute map. Callers must not
// mutate the returned map directly; use Set.
func (r *Record) Attrs() map[string]any {
	return r.attrs
}
