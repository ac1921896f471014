// SPDX-License-Identifier: Apache-2.0

package revisionsql_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/internal/testutils"
	"github.com/pgmakeschemas/pgms/pkg/db"
	"github.com/pgmakeschemas/pgms/pkg/revisionsql"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestRevisionSchemaNormalizesApplication(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("Billing-App")
	assert.Equal(t, "billing_app_revision", g.RevisionSchema())
}

func TestEnsureRevisionStructsIsIdempotentDDL(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("app-a")
	sql := g.EnsureRevisionStructs("main")

	assert.Contains(t, sql, `CREATE SCHEMA IF NOT EXISTS "app_a_revision"`)
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "app_a_revision"."main_var_revision"`)
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "app_a_revision"."main_func_revision_history"`)
}

func TestGuardVarRevisionNullMatchesNoRow(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("app-a")
	sql := g.GuardVarRevision("main", "main", nullable.Nullable[string]{})

	assert.Contains(t, sql, "IS DISTINCT FROM NULL")
	assert.Contains(t, sql, "DO $guard_var_revision$")
}

func TestGuardVarRevisionWithExpected(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("app-a")
	sql := g.GuardVarRevision("main", "main", nullable.NewNullableWithValue("r1"))

	assert.Contains(t, sql, "IS DISTINCT FROM 'r1'")
}

func TestDropVarSchemasCascade(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("app-a")
	sql := g.DropVarSchemas("main", "main", []string{"s1", "s2"}, true)

	assert.Contains(t, sql, "DROP SCHEMA IF EXISTS %I CASCADE")
	assert.Contains(t, sql, "ARRAY['s1', 's2']::text[]")
}

func TestPushVarRevisionBuildsUpsertAndHistoryInsert(t *testing.T) {
	t.Parallel()

	g := revisionsql.NewGenerator("app-a")
	comment := "deployed by ci"
	sql := g.PushVarRevision("main", "main", "r1", &comment, []string{"core"})

	assert.Contains(t, sql, "ON CONFLICT (application, schemas_type) DO UPDATE")
	assert.Contains(t, sql, `"app_a_revision"."main_var_revision_history"`)
	assert.Contains(t, sql, "'deployed by ci'")
}

// TestEnsureRevisionStructsAndPushVarRevisionAreIdempotent exercises T5
// against a real connection: the bookkeeping DDL and the revision upsert
// must both tolerate repeated application on an already-provisioned
// database, with the history table recording each push.
func TestEnsureRevisionStructsAndPushVarRevisionAreIdempotent(t *testing.T) {
	t.Parallel()

	testutils.WithConnStr(t, func(connStr string, conn *sql.DB) {
		ctx := context.Background()
		g := revisionsql.NewGenerator("app-a")

		ddl := g.EnsureRevisionStructs("main")
		_, err := conn.ExecContext(ctx, ddl)
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, ddl)
		require.NoError(t, err, "EnsureRevisionStructs must be safe to re-run on an already-provisioned database")

		push := g.PushVarRevision("main", "main", "r1", nil, []string{"core"})
		_, err = conn.ExecContext(ctx, push)
		require.NoError(t, err)
		_, err = conn.ExecContext(ctx, push)
		require.NoError(t, err, "PushVarRevision must be safe to re-run with the same revision")

		pc, err := db.Open(ctx, connStr)
		require.NoError(t, err)
		defer pc.Rollback()

		rev, _, err := g.FetchVarRevision(ctx, pc, "main", "main")
		require.NoError(t, err)
		require.NotNil(t, rev)
		assert.Equal(t, "r1", *rev)

		rows, err := conn.QueryContext(ctx, `SELECT count(*) FROM "app_a_revision"."main_var_revision_history"`)
		require.NoError(t, err)
		defer rows.Close()

		require.True(t, rows.Next())
		var historyCount int
		require.NoError(t, rows.Scan(&historyCount))
		assert.Equal(t, 2, historyCount, "history table records both pushes even though the current-revision row was upserted in place")
	})
}
