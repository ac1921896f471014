// SPDX-License-Identifier: Apache-2.0

package comment_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgmakeschemas/pgms/pkg/comment"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comment.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestScriptSourceTrimsTrailingNewline(t *testing.T) {
	path := writeScript(t, "#!/bin/sh\necho 'deploying widget v2'\n")
	src := comment.ScriptSource(path)

	got, err := src(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deploying widget v2", got)
}

func TestScriptSourceFailsOnNonZeroExit(t *testing.T) {
	path := writeScript(t, "#!/bin/sh\nexit 1\n")
	src := comment.ScriptSource(path)

	_, err := src(context.Background())
	assert.Error(t, err)
}
