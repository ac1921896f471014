// SPDX-License-Identifier: Apache-2.0

package receivers_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/internal/testutils"
	"github.com/pgmakeschemas/pgms/pkg/db"
	"github.com/pgmakeschemas/pgms/pkg/model"
	"github.com/pgmakeschemas/pgms/pkg/receivers"
)

func inlineFragment(sql string) model.LazyFragment {
	return model.NewInlineFragmentSeq(sql).Fragments()[0]
}

func connString(s string) *string { return &s }

func TestBeginHostRejectsDuplicateName(t *testing.T) {
	t.Parallel()

	fake := &testutils.FakeConnection{}
	r := receivers.New(func(context.Context, string) (db.Connection, error) { return fake, nil }, true, false, "")

	host := model.Host{Name: "db1", Type: "main", ConnInfo: connString("postgres://x")}
	require.NoError(t, r.BeginHost(context.Background(), host))
	assert.Error(t, r.BeginHost(context.Background(), host))
}

func TestBeginHostRequiresConnInfoUnderExecute(t *testing.T) {
	t.Parallel()

	r := receivers.New(func(context.Context, string) (db.Connection, error) { return nil, nil }, true, false, "")
	host := model.Host{Name: "db1", Type: "main"}
	assert.Error(t, r.BeginHost(context.Background(), host))
}

func TestExecuteRunsFragmentAndCommitsOnFinish(t *testing.T) {
	t.Parallel()

	fake := &testutils.FakeConnection{}
	r := receivers.New(func(context.Context, string) (db.Connection, error) { return fake, nil }, true, false, "")

	host := model.Host{Name: "db1", Type: "main", ConnInfo: connString("postgres://x")}
	require.NoError(t, r.BeginHost(context.Background(), host))
	require.NoError(t, r.Execute(context.Background(), "db1", inlineFragment("SELECT 1;")))
	require.NoError(t, r.FinishHost("db1"))

	assert.Equal(t, []string{"SELECT 1;"}, fake.Executed)
	assert.True(t, fake.Committed)
	assert.False(t, fake.RolledBack)
}

func TestExecuteWrapsDriverErrorAsReceiversError(t *testing.T) {
	t.Parallel()

	fake := &testutils.FakeConnection{FailOn: "BOOM"}
	r := receivers.New(func(context.Context, string) (db.Connection, error) { return fake, nil }, true, false, "")

	host := model.Host{Name: "db1", Type: "main", ConnInfo: connString("postgres://x")}
	require.NoError(t, r.BeginHost(context.Background(), host))

	err := r.Execute(context.Background(), "db1", inlineFragment("BOOM"))
	var recvErr receivers.ReceiversError
	require.ErrorAs(t, err, &recvErr)
	assert.Equal(t, "db1", recvErr.Host)
}

func TestPretendRollsBackInstead(t *testing.T) {
	t.Parallel()

	fake := &testutils.FakeConnection{}
	r := receivers.New(func(context.Context, string) (db.Connection, error) { return fake, nil }, true, true, "")

	host := model.Host{Name: "db1", Type: "main", ConnInfo: connString("postgres://x")}
	require.NoError(t, r.BeginHost(context.Background(), host))
	require.NoError(t, r.FinishHost("db1"))

	assert.True(t, fake.RolledBack)
	assert.False(t, fake.Committed)
}

func TestOutputModeWritesFragmentAndOkMarker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	prefix := filepath.Join(dir, "run")

	r := receivers.New(func(context.Context, string) (db.Connection, error) { return nil, nil }, false, false, prefix)
	host := model.Host{Name: "db1", Type: "main"}
	require.NoError(t, r.BeginHost(context.Background(), host))

	assert.Equal(t, 1, r.LookFragmentI("db1"))
	require.NoError(t, r.Execute(context.Background(), "db1", inlineFragment("SELECT 1;")))
	assert.Equal(t, 2, r.LookFragmentI("db1"))
	require.NoError(t, r.FinishHost("db1"))

	content, err := os.ReadFile(prefix + ".db1.main.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "SELECT 1;")
	assert.Contains(t, string(content), "fragment 1: ok")
	assert.Contains(t, string(content), "--commit;")
}

func TestNoticesWrittenOncePerFragment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	prefix := filepath.Join(dir, "run")

	fake := &testutils.FakeConnection{}
	r := receivers.New(func(context.Context, string) (db.Connection, error) { return fake, nil }, true, false, prefix)

	host := model.Host{Name: "db1", Type: "main", ConnInfo: connString("postgres://x")}
	require.NoError(t, r.BeginHost(context.Background(), host))

	fake.PushNotice("first notice")
	require.NoError(t, r.Execute(context.Background(), "db1", inlineFragment("SELECT 1;")))
	fake.PushNotice("second notice")
	require.NoError(t, r.Execute(context.Background(), "db1", inlineFragment("SELECT 2;")))
	require.NoError(t, r.FinishHost("db1"))

	content, err := os.ReadFile(prefix + ".db1.main.notices")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "first notice"))
	assert.Equal(t, 1, strings.Count(string(content), "second notice"))
}

func TestCloseRollsBackRemainingHostsInReverseOrder(t *testing.T) {
	t.Parallel()

	fakeA := &testutils.FakeConnection{}
	fakeB := &testutils.FakeConnection{}
	conns := map[string]*testutils.FakeConnection{"a": fakeA, "b": fakeB}

	r := receivers.New(func(_ context.Context, connInfo string) (db.Connection, error) {
		return conns[connInfo], nil
	}, true, false, "")

	require.NoError(t, r.BeginHost(context.Background(), model.Host{Name: "a", Type: "main", ConnInfo: connString("a")}))
	require.NoError(t, r.BeginHost(context.Background(), model.Host{Name: "b", Type: "main", ConnInfo: connString("b")}))

	require.NoError(t, r.Close())

	assert.True(t, fakeA.RolledBack)
	assert.True(t, fakeB.RolledBack)
}
