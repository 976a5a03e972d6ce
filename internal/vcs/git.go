// Package vcs commits generated sources to a git repository.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Committer records the current state of the generated sources
type Committer interface {
	Commit(ctx context.Context, message, description string) error
}

// Options configures the git committer
type Options struct {
	Push        bool
	Remote      string
	AuthorName  string
	AuthorEmail string
}

// Git commits with the git CLI. Commits are serialized.
type Git struct {
	dir    string
	opts   Options
	logger *zap.Logger

	mu sync.Mutex
}

// NewGit creates a committer for the repository at dir
func NewGit(dir string, opts Options, logger *zap.Logger) *Git {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{dir: dir, opts: opts, logger: logger}
}

// Init creates the repository if dir is not one yet
func (g *Git) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := os.Stat(filepath.Join(g.dir, ".git")); err == nil {
		return nil
	}
	if _, err := g.run(ctx, "init"); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	g.logger.Info("initialized git repository", zap.String("dir", g.dir))
	return nil
}

// CreateBranch switches to a new branch
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// HasChanges reports whether the working tree has uncommitted changes
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit stages everything and commits it. A clean tree is not an error.
func (g *Git) Commit(ctx context.Context, message, description string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed, err := g.HasChanges(ctx)
	if err != nil || !changed {
		return err
	}

	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	args := g.authorArgs()
	args = append(args, "commit", "-m", message)
	if description != "" {
		args = append(args, "-m", description)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}

	if g.opts.Push {
		if _, err := g.run(ctx, "push", "-u", g.opts.Remote, "HEAD"); err != nil {
			return fmt.Errorf("git push: %w", err)
		}
	}

	g.logger.Debug("committed changes", zap.String("message", message))
	return nil
}

func (g *Git) authorArgs() []string {
	var args []string
	if g.opts.AuthorName != "" {
		args = append(args, "-c", "user.name="+g.opts.AuthorName)
	}
	if g.opts.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+g.opts.AuthorEmail)
	}
	return args
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s", strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Nop discards commits
type Nop struct{}

// Commit does nothing
func (Nop) Commit(context.Context, string, string) error { return nil }

// CommitAndLog commits and logs a failure instead of returning it
func CommitAndLog(ctx context.Context, c Committer, logger *zap.Logger, message, description string) {
	if err := c.Commit(ctx, message, description); err != nil {
		logger.Warn("commit failed", zap.String("message", message), zap.Error(err))
	}
}
