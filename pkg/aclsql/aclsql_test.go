// SPDX-License-Identifier: Apache-2.0

package aclsql_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/internal/testutils"
	"github.com/pgmakeschemas/pgms/pkg/aclsql"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestPgRolePathDefaultsRole(t *testing.T) {
	t.Parallel()

	sql := aclsql.PgRolePath("", "core")
	assert.Contains(t, sql, `SET LOCAL ROLE "postgres"`)
	assert.Contains(t, sql, `SET LOCAL search_path = '"core"'`)
}

func TestPgRolePathEmptySchemaYieldsEmptySearchPath(t *testing.T) {
	t.Parallel()

	sql := aclsql.PgRolePath("app_owner", "")
	assert.Contains(t, sql, `SET LOCAL ROLE "app_owner"`)
	assert.Contains(t, sql, `SET LOCAL search_path = ''`)
}

func TestApplyPgRolePathWrapsAndReturnsMetadata(t *testing.T) {
	t.Parallel()

	wrapped, meta := aclsql.ApplyPgRolePath("CREATE TABLE t (id int)", "app_owner", "core")
	assert.Contains(t, wrapped, `SET LOCAL ROLE "app_owner"`)
	assert.Contains(t, wrapped, "CREATE TABLE t (id int);")
	assert.Equal(t, "app_owner", meta.PgRole)
	assert.Equal(t, "core", meta.PgSearchPath)
}

func TestCreateSchemaEmitsOwnerAndGrants(t *testing.T) {
	t.Parallel()

	sql := aclsql.CreateSchema("core", "app_owner", []string{"reader", "writer"})
	assert.Contains(t, sql, `CREATE SCHEMA "core";`)
	assert.Contains(t, sql, `ALTER SCHEMA "core" OWNER TO "app_owner";`)
	assert.Contains(t, sql, `REVOKE ALL ON SCHEMA "core" FROM PUBLIC;`)
	assert.Contains(t, sql, `GRANT USAGE ON SCHEMA "core" TO "reader";`)
	assert.Contains(t, sql, `GRANT USAGE ON SCHEMA "core" TO "writer";`)
}

func TestGuardACLsStrictRaisesOnUnmatchedEntry(t *testing.T) {
	t.Parallel()

	sql := aclsql.GuardACLs("core", "app_owner", []string{"reader"}, false)
	assert.Contains(t, sql, "DO $guard_acls$")
	assert.Contains(t, sql, "_create_list text[] := ARRAY['app_owner']::text[];")
	assert.Contains(t, sql, "_usage_list text[] := ARRAY['app_owner', 'reader']::text[];")
	assert.Contains(t, sql, "aclexplode(ns.nspacl)")
	assert.Contains(t, sql, "RAISE EXCEPTION 'unexpected acl: % % % % %'")
	assert.Contains(t, sql, "RAISE EXCEPTION 'missing create acls: % %'")
	assert.Contains(t, sql, "RAISE EXCEPTION 'missing usage acls: % %'")
}

func TestGuardACLsWeakOmitsUnexpectedACLRaise(t *testing.T) {
	t.Parallel()

	sql := aclsql.GuardACLs("core", "app_owner", []string{"reader"}, true)
	assert.NotContains(t, sql, "unexpected acl")
	assert.Contains(t, sql, "RAISE EXCEPTION 'missing create acls: % %'")
	assert.Contains(t, sql, "RAISE EXCEPTION 'missing usage acls: % %'")
}

// TestGuardACLsRejectsMismatchedOwner covers a schema owned by a
// different role than the manifest declares, with a stray public USAGE
// grant. The guard must fail with "unexpected acl:" and must not let the
// surrounding transaction commit.
func TestGuardACLsRejectsMismatchedOwner(t *testing.T) {
	t.Parallel()

	testutils.WithConnStr(t, func(connStr string, conn *sql.DB) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE ROLE other_user; CREATE ROLE app_owner; CREATE ROLE reader")
		require.NoError(t, err)

		_, err = conn.ExecContext(ctx, "CREATE SCHEMA core AUTHORIZATION other_user")
		require.NoError(t, err)

		_, err = conn.ExecContext(ctx, "GRANT USAGE ON SCHEMA core TO PUBLIC")
		require.NoError(t, err)

		tx, err := conn.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer tx.Rollback()

		guardSQL := aclsql.GuardACLs("core", "app_owner", []string{"reader"}, false)
		_, err = tx.ExecContext(ctx, guardSQL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected acl:")

		_, err = tx.ExecContext(ctx, "SELECT 1")
		assert.Error(t, err, "transaction must be aborted once the guard raises, so nothing after it can commit")
	})
}
