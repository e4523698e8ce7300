// Package gitops drives the git CLI for the checkout and commit-push steps.
package gitops

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"sjscal/pkg/executor/runner"
)

var (
	// ErrNothingToCommit classifies a commit with a clean index.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrPushRejected classifies a push refused by the remote.
	ErrPushRejected = errors.New("push rejected by remote")
)

// GitError is a git invocation that exited non-zero.
type GitError struct {
	Args     []string
	ExitCode int
	Output   string
	kind     error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Output)
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Sprintf("git %s: exit %d: %s", strings.Join(redact(e.Args), " "), e.ExitCode, msg)
}

func (e *GitError) Unwrap() error {
	return e.kind
}

// Repo is a working copy driven through a JobRunner.
type Repo struct {
	Dir    string
	Runner runner.JobRunner
	// Env is the full process environment for git; nil inherits the caller's.
	Env []string
	// Output receives git's output as it runs.
	Output io.Writer
}

// CloneOptions describes a single-branch clone.
type CloneOptions struct {
	URL   string
	Ref   string
	Token string
	Dir   string
	Env   []string
	// Output receives git's output as it runs.
	Output io.Writer
}

// AuthHeader is the http.extraheader value for token authentication.
func AuthHeader(token string) string {
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return "AUTHORIZATION: basic " + basic
}

// Clone fetches opts.Ref of opts.URL into opts.Dir. When a token is given it
// is passed as an extra header and persisted in the clone's local config so
// a later push authenticates the same way.
func Clone(ctx context.Context, r runner.JobRunner, opts CloneOptions) (*Repo, error) {
	if opts.URL == "" {
		return nil, errors.New("clone: repository URL is required")
	}

	var args []string
	if opts.Token != "" {
		args = append(args, "-c", "http.extraheader="+AuthHeader(opts.Token))
	}
	args = append(args, "clone", "--single-branch")
	if opts.Ref != "" {
		args = append(args, "--branch", opts.Ref)
	}
	args = append(args, opts.URL, opts.Dir)

	repo := &Repo{Dir: opts.Dir, Runner: r, Env: opts.Env, Output: opts.Output}
	if _, err := repo.runIn(ctx, "", args...); err != nil {
		return nil, err
	}

	if opts.Token != "" {
		if _, err := repo.git(ctx, "config", "--local", "http.extraheader", AuthHeader(opts.Token)); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Open wraps an existing working copy.
func Open(dir string, r runner.JobRunner, env []string, output io.Writer) *Repo {
	return &Repo{Dir: dir, Runner: r, Env: env, Output: output}
}

// ConfigureIdentity sets the committer identity in the local config.
func (r *Repo) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := r.git(ctx, "config", "--local", "user.name", name); err != nil {
		return err
	}
	_, err := r.git(ctx, "config", "--local", "user.email", email)
	return err
}

// Add stages the given paths.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := r.git(ctx, args...)
	return err
}

// Commit records the index. A clean index yields an error wrapping
// ErrNothingToCommit.
func (r *Repo) Commit(ctx context.Context, message string) error {
	_, err := r.git(ctx, "commit", "-m", message)
	return err
}

// Push sends refspec to remote. A refusal yields an error wrapping
// ErrPushRejected.
func (r *Repo) Push(ctx context.Context, remote, refspec string) error {
	_, err := r.git(ctx, "push", remote, refspec)
	return err
}

// Head returns the commit hash HEAD points at.
func (r *Repo) Head(ctx context.Context) (string, error) {
	res, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (r *Repo) git(ctx context.Context, args ...string) (runner.Result, error) {
	return r.runIn(ctx, r.Dir, args...)
}

func (r *Repo) runIn(ctx context.Context, dir string, args ...string) (runner.Result, error) {
	res := r.Runner.Run(ctx, runner.Command{
		Path:   "git",
		Args:   args,
		Dir:    dir,
		Env:    r.Env,
		Output: r.Output,
	})
	if !res.Failed() {
		return res, nil
	}
	if res.ExitCode < 0 && res.Error != nil {
		return res, fmt.Errorf("git %s: %w", firstArg(args), res.Error)
	}
	output := res.Stdout + res.Stderr
	return res, &GitError{
		Args:     args,
		ExitCode: res.ExitCode,
		Output:   output,
		kind:     classify(output),
	}
}

func classify(output string) error {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "nothing to commit"),
		strings.Contains(lower, "nothing added to commit"),
		strings.Contains(lower, "no changes added to commit"):
		return ErrNothingToCommit
	case strings.Contains(lower, "[rejected]"),
		strings.Contains(lower, "[remote rejected]"),
		strings.Contains(lower, "non-fast-forward"),
		strings.Contains(lower, "failed to push some refs"):
		return ErrPushRejected
	}
	return nil
}

// Classify maps an error from this package to a short label for logs and
// metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNothingToCommit):
		return "nothing_to_commit"
	case errors.Is(err, ErrPushRejected):
		return "rejected"
	default:
		return "error"
	}
}

func firstArg(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// redact hides credentials carried in -c extraheader arguments.
func redact(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "http.extraheader="):
			a = "http.extraheader=***"
		case strings.HasPrefix(a, "AUTHORIZATION:"):
			a = "***"
		}
		out[i] = a
	}
	return out
}
