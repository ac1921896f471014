// SPDX-License-Identifier: Apache-2.0

package screnv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/screnv"
)

func TestCreateEmitsAllScrEnvFunctions(t *testing.T) {
	t.Parallel()

	e := screnv.New()
	hosts := model.HostsDescr{
		Hosts: []model.Host{
			{Name: "db1", Type: "main", Params: map[string]any{"region": "eu"}},
			{Name: "db2", Type: "main"},
		},
		Shared: map[string]any{"env": "prod"},
	}

	sql, err := e.Create(hosts.Hosts[0], hosts)
	require.NoError(t, err)

	names := e.FunctionNames()
	require.Len(t, names, 6)
	for _, name := range names {
		assert.Contains(t, sql, "pg_temp."+`"`+name+`"`)
	}
	assert.Contains(t, sql, "'db1'")
	assert.Contains(t, sql, "'main'")
	assert.Contains(t, sql, `"region":"eu"`)
	assert.Contains(t, sql, `"env":"prod"`)
}

func TestDropEmitsDropForEachFunction(t *testing.T) {
	t.Parallel()

	e := screnv.New()
	sql := e.Drop()
	for _, name := range e.FunctionNames() {
		assert.Contains(t, sql, "DROP FUNCTION IF EXISTS pg_temp."+`"`+name+`"`+"();")
	}
}

func TestUniqueSuffixPerEnv(t *testing.T) {
	t.Parallel()

	a := screnv.New()
	b := screnv.New()
	assert.NotEqual(t, a.FunctionNames(), b.FunctionNames())
}
