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

package transaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/innogames/igvm/internal/transaction"
)

func TestRollbackRunsLIFOAndSwallowsErrors(t *testing.T) {
	var order []string
	tx := transaction.New()
	tx.OnRollback("a", func() error { order = append(order, "a"); return nil })
	tx.OnRollback("b", func() error { order = append(order, "b"); return errors.New("boom") })
	tx.OnRollback("c", func() error { order = append(order, "c"); return nil })

	tx.Rollback()

	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCheckpointDropsPriorActions(t *testing.T) {
	var ran bool
	tx := transaction.New()
	tx.OnRollback("dropped", func() error { ran = true; return nil })
	tx.Checkpoint()
	tx.OnRollback("kept", func() error { return nil })

	tx.Rollback()

	if ran {
		t.Fatal("action registered before checkpoint ran during rollback")
	}
}

func TestRunCheckpointsOnSuccess(t *testing.T) {
	var ran bool
	err := transaction.Run(context.Background(), func(ctx context.Context, tx *transaction.Transaction) error {
		tx.OnRollback("x", func() error { ran = true; return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if ran {
		t.Fatal("rollback action ran despite successful Run")
	}
}

func TestRunRollsBackOnError(t *testing.T) {
	var ran bool
	sentinel := errors.New("failed")
	err := transaction.Run(context.Background(), func(ctx context.Context, tx *transaction.Transaction) error {
		tx.OnRollback("x", func() error { ran = true; return nil })
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if !ran {
		t.Fatal("rollback action did not run after Run returned an error")
	}
}

func TestRunReusesTransactionFromContext(t *testing.T) {
	outer := transaction.New()
	ctx := transaction.WithTransaction(context.Background(), outer)

	var innerTx *transaction.Transaction
	err := transaction.Run(ctx, func(ctx context.Context, tx *transaction.Transaction) error {
		innerTx = tx
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if innerTx != outer {
		t.Fatal("Run created a new transaction instead of reusing the one from context")
	}
}
