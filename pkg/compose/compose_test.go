// SPDX-License-Identifier: Apache-2.0

package compose_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/pkg/compose"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("select 1;"), 0o644))
	}
}

// TestComposeOrdering reproduces scenario 2 from spec.md §8: given
// a.sql, b.sql, c.sql with first=[b.sql], last=[a.sql], the composed
// order is first=[b], regular=[c], last=[a].
func TestComposeOrdering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, "a.sql", "b.sql", "c.sql")

	firstList, regularList, lastList, err := compose.Compose(dir, nil, nil, nil, nil, nil, []string{dir})
	require.NoError(t, err)
	assert.Empty(t, firstList)
	assert.Empty(t, lastList)
	require.Len(t, regularList, 3)
	assert.Equal(t, filepath.Join(dir, "a.sql"), regularList[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.sql"), regularList[1].Path)
	assert.Equal(t, filepath.Join(dir, "c.sql"), regularList[2].Path)

	firstList, regularList, lastList, err = compose.Compose(dir, nil, []string{"b.sql"}, []string{"a.sql"}, nil, nil, []string{dir})
	require.NoError(t, err)
	require.Len(t, firstList, 1)
	assert.Equal(t, filepath.Join(dir, "b.sql"), firstList[0].Path)
	require.Len(t, regularList, 1)
	assert.Equal(t, filepath.Join(dir, "c.sql"), regularList[0].Path)
	require.Len(t, lastList, 1)
	assert.Equal(t, filepath.Join(dir, "a.sql"), lastList[0].Path)
}

func TestComposeUnusedOrderFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFiles(t, dir, "a.sql")

	_, _, _, err := compose.Compose(dir, nil, []string{"missing.sql"}, nil, nil, nil, []string{dir})
	assert.ErrorAs(t, err, &compose.UnusedOrderError{})
}

func TestComposeDuplicateAcrossIncludes(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	shared := filepath.Join(root, "shared")
	require.NoError(t, os.Mkdir(shared, 0o755))
	writeFiles(t, shared, "x.sql")

	schemaDir := filepath.Join(root, "schema")
	require.NoError(t, os.Mkdir(schemaDir, 0o755))
	writeFiles(t, schemaDir, "x.sql")

	_, _, _, err := compose.Compose(schemaDir, []string{"../shared"}, nil, nil, nil, nil, []string{root})
	// distinct resolved files, no duplicate
	require.NoError(t, err)

	_, _, _, err = compose.Compose(schemaDir, []string{".", "."}, nil, nil, nil, nil, []string{root})
	assert.ErrorAs(t, err, &compose.DuplicateFragmentError{})
}

func TestResolveIncludeRef(t *testing.T) {
	t.Parallel()

	refMap := map[string]string{"SHARED": "/src/shared"}

	got, err := compose.ResolveInclude("$SHARED/sql", refMap)
	require.NoError(t, err)
	assert.Equal(t, "/src/shared/sql", got)

	got, err = compose.ResolveInclude("${SHARED}/sql", refMap)
	require.NoError(t, err)
	assert.Equal(t, "/src/shared/sql", got)

	_, err = compose.ResolveInclude("$MISSING/sql", refMap)
	assert.ErrorAs(t, err, &compose.UndefinedRefError{})
}
