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

// Package selector picks the best hypervisor for a VM out of a candidate
// set, in two phases: a constraint phase that drops any hypervisor that
// cannot host the VM at all, and a preference phase that scores every
// survivor and ranks them. Both phases fan out over the candidate set in
// a bounded worker pool, ported from igvm's balance engine's own
// 32-thread cap.
package selector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/innogames/igvm/internal/hypervisor"
	"github.com/innogames/igvm/internal/lazycmp"
	"github.com/innogames/igvm/internal/metrics"
	"github.com/innogames/igvm/internal/vm"
)

// typeName strips the package qualifier from %T so metric labels read
// "Memory" rather than "selector.Memory".
func typeName(v any) string {
	s := fmt.Sprintf("%T", v)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}

// MaxConcurrency bounds how many constraint/preference checks run at
// once, matching the teacher's own 32-thread ceiling.
const MaxConcurrency = 32

// Constraint returns whether hv may host vm at all. A false result drops
// hv from the candidate set before any preference is evaluated.
type Constraint interface {
	Fulfilled(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (bool, error)
}

// Preference scores hv for vm in [0, 1]; ok is false when this
// preference excludes hv outright (the aggregate score treats that the
// same as a failed constraint).
type Preference interface {
	Score(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor) (score float64, ok bool, err error)
}

// runBounded calls fn once per index in [0, n) across at most
// MaxConcurrency goroutines, stopping at the first error.
func runBounded(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	sem := semaphore.NewWeighted(MaxConcurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// Filter evaluates every constraint against every candidate and returns
// the subset of candidates that satisfy all of them. A candidate is
// dropped as soon as any one constraint fails it.
func Filter(ctx context.Context, v *vm.VM, candidates []*hypervisor.Hypervisor, constraints []Constraint) ([]*hypervisor.Hypervisor, error) {
	ok := make([]bool, len(candidates))
	for i := range ok {
		ok[i] = true
	}

	for _, c := range constraints {
		err := runBounded(ctx, len(candidates), func(ctx context.Context, i int) error {
			if !ok[i] {
				return nil
			}
			fulfilled, err := c.Fulfilled(ctx, v, candidates[i])
			if err != nil {
				return err
			}
			metrics.RecordConstraint(typeName(c), fulfilled)
			ok[i] = fulfilled
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var out []*hypervisor.Hypervisor
	for i, hv := range candidates {
		if ok[i] {
			out = append(out, hv)
		}
	}
	return out, nil
}

// Ranked is one scored candidate.
type Ranked struct {
	Hypervisor *hypervisor.Hypervisor
	Score       float64
	Excluded    bool
}

// aggregateScore applies spec.md §4.K's formula: if any preference
// excluded the candidate, it is excluded outright; otherwise the score
// is sum(scores) / (n_prefs - matched + 1) / n_prefs, where matched
// counts the preferences that actually returned a score (some
// preferences are configured per VM-project and may not apply to every
// VM, mirroring the teacher's own "rule doesn't apply, skip it" cases
// folded into "matched").
func aggregateScore(ctx context.Context, v *vm.VM, hv *hypervisor.Hypervisor, prefs []Preference) (float64, bool, error) {
	n := len(prefs)
	if n == 0 {
		return 1, true, nil
	}

	var sum float64
	matched := 0
	for _, p := range prefs {
		score, ok, err := p.Score(ctx, v, hv)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		metrics.RecordPreferenceScore(typeName(p), score)
		sum += score
		matched++
	}
	denom := float64(n-matched+1) * float64(n)
	if denom == 0 {
		return 0, false, nil
	}
	return sum / denom, true, nil
}

// Rank scores every candidate against prefs and returns them sorted
// descending by aggregate score, excluded candidates last. Every
// candidate is scored once, up front and in parallel, before the lazy
// sorter orders the precomputed scores.
func Rank(ctx context.Context, v *vm.VM, candidates []*hypervisor.Hypervisor, prefs []Preference) ([]Ranked, error) {
	scored := make([]Ranked, len(candidates))
	err := runBounded(ctx, len(candidates), func(ctx context.Context, i int) error {
		score, ok, err := aggregateScore(ctx, v, candidates[i], prefs)
		if err != nil {
			return err
		}
		scored[i] = Ranked{Hypervisor: candidates[i], Score: score, Excluded: !ok}
		return nil
	})
	if err != nil {
		return nil, err
	}

	items := make([]any, len(scored))
	for i, s := range scored {
		items[i] = s
	}
	sortedAny := lazycmp.Sort(items, func(a any) float64 {
		r := a.(Ranked)
		if r.Excluded {
			return -1
		}
		return r.Score
	})

	out := make([]Ranked, len(sortedAny))
	for i, a := range sortedAny {
		out[i] = a.(Ranked)
	}
	return out, nil
}

// Best returns the top-ranked, non-excluded candidate, or false if every
// candidate was excluded by some preference.
func Best(ranked []Ranked) (*hypervisor.Hypervisor, bool) {
	for _, r := range ranked {
		if !r.Excluded {
			return r.Hypervisor, true
		}
	}
	return nil, false
}
