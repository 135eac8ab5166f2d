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

// Package transaction implements the compensating-action stack every
// mutating pipeline step registers against. On failure, the stack unwinds
// in LIFO order; a checkpoint discards everything registered before it so
// that later failures cannot undo an already-committed step.
package transaction

import (
	"context"

	"github.com/innogames/igvm/internal/log"
)

type action struct {
	name string
	fn   func() error
}

// Transaction is a LIFO stack of compensating actions. It is not safe for
// concurrent use by multiple goroutines.
type Transaction struct {
	actions   []action
	rolledBack bool
}

// New returns an empty transaction.
func New() *Transaction {
	return &Transaction{}
}

// OnRollback registers fn to be called, in LIFO order relative to other
// registrations, if the transaction is rolled back.
func (t *Transaction) OnRollback(name string, fn func() error) {
	if t.rolledBack {
		panic("transaction: OnRollback called after rollback")
	}
	t.actions = append(t.actions, action{name: name, fn: fn})
}

// Checkpoint discards every action registered so far, making them
// permanent: a later rollback will not undo them.
func (t *Transaction) Checkpoint() {
	log.Log.V(1).Info("checkpoint reached, prior actions are now permanent")
	t.actions = nil
}

// Rollback runs every registered action in LIFO order. Each action's
// failure is logged and swallowed so that one bad compensator never
// prevents the rest from running. The transaction is invalidated
// afterwards; further calls are no-ops.
func (t *Transaction) Rollback() {
	if t.rolledBack {
		return
	}
	if len(t.actions) > 0 {
		log.Log.Info("rolling back transaction", "steps", len(t.actions))
	}
	for i := len(t.actions) - 1; i >= 0; i-- {
		a := t.actions[i]
		if err := a.fn(); err != nil {
			log.Log.Error(err, "rollback action failed", "action", a.name)
		}
	}
	t.actions = nil
	t.rolledBack = true
}

type txKey struct{}

// WithTransaction returns a context carrying tx, retrievable with From.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// From returns the transaction carried by ctx, or nil if there is none.
func From(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(txKey{}).(*Transaction)
	return tx
}

// Run calls fn with a transaction: the one already in ctx if present,
// otherwise a freshly created one that is rolled back on error and
// checkpointed on success. This mirrors run_in_transaction: a pipeline
// function only creates its own transaction when its caller didn't
// already hand it one.
func Run(ctx context.Context, fn func(ctx context.Context, tx *Transaction) error) error {
	if tx := From(ctx); tx != nil {
		return fn(ctx, tx)
	}
	tx := New()
	ctx = WithTransaction(ctx, tx)
	err := fn(ctx, tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	tx.Checkpoint()
	return nil
}
