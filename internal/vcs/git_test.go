package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestGitCommit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	dir := t.TempDir()

	g := NewGit(dir, Options{AuthorName: "revolve", AuthorEmail: "revolve@example.com"}, nil)
	require.NoError(t, g.Init(ctx))
	require.NoError(t, g.Init(ctx), "init is idempotent")

	// Clean tree commits nothing
	require.NoError(t, g.Commit(ctx, "empty", ""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.py"), []byte("x = 1\n"), 0644))
	changed, err := g.HasChanges(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, g.Commit(ctx, "users resource", "problem: none\nfix: none"))

	changed, err = g.HasChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	out, err := g.run(ctx, "log", "--format=%s")
	require.NoError(t, err)
	assert.Equal(t, "users resource", strings.TrimSpace(out))

	require.NoError(t, g.CreateBranch(ctx, "revolve/test-branch"))
	out, err = g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "revolve/test-branch", strings.TrimSpace(out))
}

type failingCommitter struct{}

func (failingCommitter) Commit(context.Context, string, string) error {
	return errors.New("no repository")
}

func TestCommitAndLog(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	CommitAndLog(context.Background(), failingCommitter{}, zap.New(core), "msg", "")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "commit failed", logs.All()[0].Message)

	CommitAndLog(context.Background(), Nop{}, zap.New(core), "msg", "")
	assert.Equal(t, 1, logs.Len())
}
