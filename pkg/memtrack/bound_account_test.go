// Copyright 2025 The MemTrack Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package memtrack

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/meridiandb/memtrack/pkg/util/leaktest"
	"github.com/stretchr/testify/require"
)

func TestBoundAccount(t *testing.T) {
	defer leaktest.AfterTest(t)()
	tr := New("N", 100, nil)
	acc := tr.MakeBoundAccount()
	require.Equal(t, tr, acc.Tracker())

	require.NoError(t, acc.Grow(40))
	require.NoError(t, acc.Grow(40))
	require.EqualValues(t, 80, acc.Used())
	require.EqualValues(t, 80, tr.Consumption())

	err := acc.Grow(30)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMemoryBudgetExceeded)
	// A refused grow changes nothing.
	require.EqualValues(t, 80, acc.Used())
	require.EqualValues(t, 80, tr.Consumption())

	acc.Shrink(30)
	require.EqualValues(t, 50, acc.Used())
	require.EqualValues(t, 50, tr.Consumption())

	acc.Close()
	require.EqualValues(t, 0, acc.Used())
	require.EqualValues(t, 0, tr.Consumption())
}

func TestBoundAccountResize(t *testing.T) {
	defer leaktest.AfterTest(t)()
	tr := New("N", 100, nil)
	acc := tr.MakeBoundAccount()

	require.NoError(t, acc.Resize(0, 60))
	require.EqualValues(t, 60, acc.Used())
	require.NoError(t, acc.Resize(60, 20))
	require.EqualValues(t, 20, acc.Used())
	require.NoError(t, acc.Resize(20, 20))
	require.EqualValues(t, 20, acc.Used())

	// A failed resize leaves the original allocation intact.
	require.Error(t, acc.Resize(20, 200))
	require.EqualValues(t, 20, acc.Used())
	require.EqualValues(t, 20, tr.Consumption())
	acc.Close()
}

func TestBoundAccountsShareTracker(t *testing.T) {
	defer leaktest.AfterTest(t)()
	tr := New("N", 100, nil)
	a := tr.MakeBoundAccount()
	b := tr.MakeBoundAccount()

	require.NoError(t, a.Grow(60))
	require.ErrorIs(t, b.Grow(60), ErrMemoryBudgetExceeded)
	require.NoError(t, b.Grow(40))

	// Closing one account releases only its own share.
	a.Close()
	require.EqualValues(t, 40, tr.Consumption())
	b.Close()
	require.EqualValues(t, 0, tr.Consumption())

	// Budget errors are expected outcomes; they must not carry assertion
	// markers.
	c := tr.MakeBoundAccount()
	err := c.Grow(200)
	require.ErrorIs(t, err, ErrMemoryBudgetExceeded)
	require.False(t, errors.HasAssertionFailure(err))
}
