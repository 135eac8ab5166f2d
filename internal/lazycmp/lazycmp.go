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

// Package lazycmp implements a memoizing, thunk-based sort order: the
// score behind each element is computed at most once, and only when the
// sort comparator first touches that element. This is the Go equivalent
// of a lazily-evaluated property used to rank a large candidate set where
// most candidates never need their full score computed to be excluded
// from the top.
package lazycmp

import "sort"

// Thunks sorts a slice of items by a lazily-computed, memoized score,
// descending. score is called at most once per item.
type Thunks struct {
	items []any
	score func(any) float64

	computed []bool
	values    []float64
}

// New builds a Thunks sorter over items, scoring each with score.
func New(items []any, score func(any) float64) *Thunks {
	return &Thunks{
		items:    items,
		score:    score,
		computed: make([]bool, len(items)),
		values:   make([]float64, len(items)),
	}
}

func (t *Thunks) valueAt(i int) float64 {
	if !t.computed[i] {
		t.values[i] = t.score(t.items[i])
		t.computed[i] = true
	}
	return t.values[i]
}

func (t *Thunks) Len() int { return len(t.items) }

func (t *Thunks) Less(i, j int) bool { return t.valueAt(i) > t.valueAt(j) }

func (t *Thunks) Swap(i, j int) {
	t.items[i], t.items[j] = t.items[j], t.items[i]
	t.computed[i], t.computed[j] = t.computed[j], t.computed[i]
	t.values[i], t.values[j] = t.values[j], t.values[i]
}

// Sort ranks items by descending score and returns them in that order.
func Sort(items []any, score func(any) float64) []any {
	t := New(items, score)
	sort.Stable(t)
	return t.items
}
