// SPDX-License-Identifier: Apache-2.0

package orchestrator_test

import (
	"context"
	"strings"
	"testing"

	"github.com/oapi-codegen/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/internal/testutils"
	"github.com/pgmakeschemas/pgms/pkg/db"
	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/orchestrator"
)

func varSchema(name string) *model.SchemaDescr {
	return &model.SchemaDescr{
		SchemaName: name,
		SchemaType: model.SchemaVar,
		Owner:      "app_owner",
		GrantList:  []string{"app_reader"},
		Fragments:  model.NewInlineFragmentSeq("CREATE TABLE widgets (id int);"),
	}
}

func funcSchema(name string) *model.SchemaDescr {
	return &model.SchemaDescr{
		SchemaName: name,
		SchemaType: model.SchemaFunc,
		Owner:      "app_owner",
		GrantList:  []string{"app_reader"},
		Fragments:  model.NewInlineFragmentSeq("CREATE FUNCTION widgets_count() RETURNS int AS $$ SELECT 1 $$ LANGUAGE sql;"),
	}
}

func baseCluster(revision string) *model.ClusterDescr {
	return &model.ClusterDescr{
		Application: "widgetco",
		Revision:    nullable.NewNullableWithValue(revision),
		SchemasList: []*model.SchemasDescr{
			{
				SchemasType: "primary",
				VarSchemas:  []*model.SchemaDescr{varSchema("widgets_var")},
				FuncSchemas: []*model.SchemaDescr{funcSchema("widgets_func")},
			},
		},
	}
}

func oneHost() model.HostsDescr {
	conn := "postgres://fake"
	return model.HostsDescr{Hosts: []model.Host{{Name: "db1", Type: "primary", ConnInfo: &conn}}}
}

func fakeConnector(fake *testutils.FakeConnection) func(ctx context.Context, connInfo string) (db.Connection, error) {
	return func(ctx context.Context, connInfo string) (db.Connection, error) {
		return fake, nil
	}
}

func TestRunInstallRejectsReinstallWithoutCascadeOrFunc(t *testing.T) {
	cluster := baseCluster("r1")
	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute:   true,
		Reinstall: true,
	})

	results := orch.RunInstall(context.Background())
	require.Len(t, results, 1)
	var cfgErr orchestrator.ConfigError
	assert.ErrorAs(t, results[0].Err, &cfgErr)
}

func TestRunInstallFreshOrdersPhasesCorrectly(t *testing.T) {
	cluster := baseCluster("r1")
	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute: true,
	})

	results := orch.RunInstall(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, fake.Committed)
	assert.False(t, fake.RolledBack)

	joined := strings.Join(fake.Executed, "\n---\n")
	varIdx := strings.Index(joined, "widgets_var")
	funcIdx := strings.Index(joined, "widgets_func")
	pushVarIdx := strings.Index(joined, "INSERT INTO")
	require.NotEqual(t, -1, varIdx)
	require.NotEqual(t, -1, funcIdx)
	assert.Less(t, varIdx, funcIdx, "var schemas must install before func schemas")
	assert.NotEqual(t, -1, pushVarIdx)
}

func TestRunInstallPretendRollsBack(t *testing.T) {
	cluster := baseCluster("r1")
	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute: true,
		Pretend: true,
	})

	results := orch.RunInstall(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, fake.RolledBack)
	assert.False(t, fake.Committed)
}

func TestRunInstallFailureAbortsWithoutCommit(t *testing.T) {
	cluster := baseCluster("r1")
	fake := &testutils.FakeConnection{FailOn: "widgets_var"}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute: true,
	})

	results := orch.RunInstall(context.Background())
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.True(t, fake.RolledBack)
	assert.False(t, fake.Committed)
}

func TestRunUpgradeWalksMigrationPlan(t *testing.T) {
	cluster := baseCluster("r2")
	cluster.Migrations = &model.MigrationsDescr{
		MigrationList: []*model.MigrationDescr{
			{
				Revision:       "r2",
				CompatibleList: []string{"r1"},
				UpgradeList: []*model.UpgradeDescr{
					{UpgradeType: "primary", Fragments: model.NewInlineFragmentSeq("ALTER TABLE widgets ADD COLUMN name text;")},
				},
			},
		},
	}

	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute: true,
		Rev:     "r1",
	})

	results := orch.RunUpgrade(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, fake.Committed)

	joined := strings.Join(fake.Executed, "\n---\n")
	assert.Contains(t, joined, "ADD COLUMN name")
}

func TestRunUpgradeNoWayFails(t *testing.T) {
	cluster := baseCluster("r9")
	cluster.Migrations = &model.MigrationsDescr{}

	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute: true,
		Rev:     "r1",
	})

	results := orch.RunUpgrade(context.Background())
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.True(t, fake.RolledBack)
}

func TestRunUpgradeChangeRevRewritesBookkeepingOnly(t *testing.T) {
	cluster := baseCluster("r3")
	fake := &testutils.FakeConnection{}
	orch := orchestrator.New(cluster, oneHost(), fakeConnector(fake), orchestrator.NewNoopLogger(), orchestrator.Options{
		Execute:   true,
		ChangeRev: true,
		Rev:       "r3",
	})

	results := orch.RunUpgrade(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, fake.Committed)

	joined := strings.Join(fake.Executed, "\n---\n")
	assert.NotContains(t, joined, `CREATE SCHEMA "widgets_var"`)
	assert.NotContains(t, joined, "ALTER TABLE")
}
