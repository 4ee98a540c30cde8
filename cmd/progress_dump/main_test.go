// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Buycar-arb/ToolForge/services/forge/progress"
	badgerstore "github.com/Buycar-arb/ToolForge/services/storage/badger"
)

func TestDump(t *testing.T) {
	ctx := context.Background()
	db, err := badgerstore.OpenDB(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, progress.NewStore(db, "runA", nil).Save(ctx, "case_C4", progress.Counts{Accepted: 3, Attempted: 7}))
	require.NoError(t, progress.NewStore(db, "runA", nil).Save(ctx, "case_A1", progress.Counts{Accepted: 1, Attempted: 1}))
	require.NoError(t, progress.NewStore(db, "runB", nil).Save(ctx, "case_C4", progress.Counts{Accepted: 9, Attempted: 9}))

	var buf bytes.Buffer
	n, err := dump(ctx, &buf, db, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Contains(t, buf.String(), "Found 3 checkpoints")
	assert.Contains(t, buf.String(), "runB")

	buf.Reset()
	n, err = dump(ctx, &buf, db, "runA", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, buf.String(), "runB")
	assert.Contains(t, buf.String(), "case_A1")

	buf.Reset()
	n, err = dump(ctx, &buf, db, "runZ", time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), "No checkpoints found")
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "unknown", formatAge(time.Time{}, now))
	assert.Equal(t, "1m30s ago", formatAge(now.Add(-90*time.Second), now))
}
