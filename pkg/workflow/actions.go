package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sjscal/pkg/artifact"
	"sjscal/pkg/executor/runner"
	"sjscal/pkg/gitops"
	"sjscal/pkg/metrics"
)

// Defaults for the commit-and-push action.
const (
	DefaultCommitUser    = "GitHub Actions"
	DefaultCommitEmail   = "actions@github.com"
	DefaultCommitMessage = "Automated update of generated output"
	DefaultCommitPaths   = "output/"
	DefaultBranch        = "main"
	DefaultRemote        = "origin"
)

func registerBuiltins(e *Engine) {
	e.Register("checkout", ActionFunc(checkout))
	e.Register("setup-python", ActionFunc(setupPython))
	e.Register("upload-artifact", ActionFunc(uploadArtifact))
	e.Register("git-commit-push", ActionFunc(commitAndPush))
}

func input(with map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(with[key]); v != "" {
		return v
	}
	return fallback
}

// checkout clones the repository at `ref` into the empty workspace.
func checkout(ctx context.Context, sc *StepContext, with map[string]string) error {
	url := input(with, "repository", sc.engine.cfg.RepoURL)
	if url == "" {
		return errors.New("checkout: no repository configured")
	}

	_, err := gitops.Clone(ctx, sc.Runner, gitops.CloneOptions{
		URL:    url,
		Ref:    input(with, "ref", DefaultBranch),
		Token:  input(with, "token", sc.engine.cfg.RepoToken),
		Dir:    sc.Workspace,
		Env:    gitEnviron(sc),
		Output: sc.Log,
	})
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

// setupPython finds an interpreter of the requested minor version, creates a
// virtual environment for it in the tool directory and puts that first on
// PATH for later steps.
func setupPython(ctx context.Context, sc *StepContext, with map[string]string) error {
	version := input(with, "python-version", "")
	if version == "" {
		return errors.New("setup-python: python-version is required")
	}

	interpreter, found, err := findPython(ctx, sc, version)
	if err != nil {
		return err
	}
	fmt.Fprintf(sc.Log, "Using %s (%s)\n", interpreter, found)

	venv := filepath.Join(sc.ToolDir, "python-"+version)
	if res := sc.Exec(ctx, interpreter, "-m", "venv", venv); res.Failed() {
		return &ExitError{Code: res.ExitCode, Err: fmt.Errorf("setup-python: creating virtualenv: %w", resultErr(res))}
	}

	sc.AddPath(filepath.Join(venv, "bin"))
	sc.ExportEnv("pythonLocation", venv)
	sc.ExportEnv("VIRTUAL_ENV", venv)
	return nil
}

func findPython(ctx context.Context, sc *StepContext, version string) (string, string, error) {
	candidates := []string{"python" + version, "python3", "python"}
	for _, candidate := range candidates {
		env := sc.Environ()
		res := sc.Runner.Run(ctx, runner.Command{
			Path: lookPath(candidate, env),
			Args: []string{"--version"},
			Dir:  sc.Workspace,
			Env:  env,
		})
		if res.Failed() {
			continue
		}
		reported := strings.TrimSpace(res.Stdout + res.Stderr)
		if matchesVersion(reported, version) {
			return lookPath(candidate, env), reported, nil
		}
	}
	return "", "", fmt.Errorf("setup-python: no interpreter matching %s found (tried %s)", version, strings.Join(candidates, ", "))
}

// matchesVersion reports whether `Python X.Y.Z` output satisfies version,
// comparing whole dotted components so 3.1 does not match 3.11.
func matchesVersion(reported, version string) bool {
	v, ok := strings.CutPrefix(reported, "Python ")
	if !ok {
		return false
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return false
	}
	v = fields[0]
	return v == version || strings.HasPrefix(v, version+".")
}

// uploadArtifact packages `path` as artifact `name`.
func uploadArtifact(ctx context.Context, sc *StepContext, with map[string]string) error {
	name := input(with, "name", "artifact")
	path := input(with, "path", "")
	if path == "" {
		return errors.New("upload-artifact: path is required")
	}
	mode := input(with, "if-no-files-found", "warn")
	switch mode {
	case "warn", "error", "ignore":
	default:
		return fmt.Errorf("upload-artifact: invalid if-no-files-found %q", mode)
	}
	if sc.Blobs == nil {
		return errors.New("upload-artifact: no blob store configured")
	}

	root := path
	if !filepath.IsAbs(root) {
		root = filepath.Join(sc.Workspace, root)
	}

	ref, files, err := artifact.NewUploader(sc.Blobs).Upload(ctx, sc.Run.ID.String(), name, root)
	if errors.Is(err, artifact.ErrNoFiles) {
		switch mode {
		case "error":
			return fmt.Errorf("upload-artifact: %w", err)
		case "warn":
			fmt.Fprintf(sc.Log, "##[warning] No files were found with the provided path: %s. No artifacts will be uploaded.\n", path)
			sc.Logger.Warn("No files to upload", zap.String("artifact", name), zap.String("path", path))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("upload-artifact: %w", err)
	}

	for _, f := range files {
		fmt.Fprintf(sc.Log, "  %s (%d bytes, sha256 %s)\n", f.Name, f.Size, f.SHA256)
	}
	fmt.Fprintf(sc.Log, "Artifact %s uploaded: %d files, %d bytes\n", ref.Name, ref.Files, ref.SizeBytes)
	metrics.ArtifactBytes.WithLabelValues(ref.Name).Observe(float64(ref.SizeBytes))
	sc.AddArtifact(ref)
	return nil
}

// commitAndPush stages the output paths, commits with the bot identity and
// pushes to the default branch. Nothing guards against an empty commit or a
// rejected push; either fails the step.
func commitAndPush(ctx context.Context, sc *StepContext, with map[string]string) error {
	repo := gitops.Open(sc.Workspace, sc.Runner, gitEnviron(sc), sc.Log)
	err := func() error {
		if err := repo.ConfigureIdentity(ctx, input(with, "user-name", DefaultCommitUser), input(with, "user-email", DefaultCommitEmail)); err != nil {
			return err
		}
		if err := repo.Add(ctx, strings.Fields(input(with, "paths", DefaultCommitPaths))...); err != nil {
			return err
		}
		if err := repo.Commit(ctx, input(with, "message", DefaultCommitMessage)); err != nil {
			return err
		}
		return repo.Push(ctx, input(with, "remote", DefaultRemote), "HEAD:"+input(with, "branch", DefaultBranch))
	}()

	result := gitops.Classify(err)
	metrics.PushesTotal.WithLabelValues(result).Inc()
	if err != nil {
		sc.Logger.Warn("Commit and push failed", zap.String("result", result), zap.Error(err))
		code := 1
		var gitErr *gitops.GitError
		if errors.As(err, &gitErr) {
			code = gitErr.ExitCode
		}
		return &ExitError{Code: code, Err: fmt.Errorf("git-commit-push: %w", err)}
	}
	return nil
}

func gitEnviron(sc *StepContext) []string {
	return append(sc.Environ(), "GIT_TERMINAL_PROMPT=0")
}

func resultErr(res runner.Result) error {
	if res.Error != nil {
		return res.Error
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", res.ExitCode)
	}
	return errors.New(msg)
}

// runScript executes a `run:` step through its shell.
func runScript(ctx context.Context, sc *StepContext, step StepSpec) error {
	shell, args, err := shellCommand(step.Shell, step.Run)
	if err != nil {
		return err
	}

	dir := sc.Workspace
	if step.WorkingDirectory != "" {
		dir = filepath.Join(sc.Workspace, step.WorkingDirectory)
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("working-directory: %w", err)
		}
	}

	res := sc.ExecIn(ctx, dir, shell, args...)
	if res.Failed() {
		if res.ExitCode < 0 {
			return &ExitError{Code: res.ExitCode, Err: resultErr(res)}
		}
		return &ExitError{Code: res.ExitCode}
	}
	return nil
}

// shellCommand maps a `shell:` value to the interpreter invocation.
func shellCommand(shell, script string) (string, []string, error) {
	switch shell {
	case "", "sh":
		return "sh", []string{"-e", "-c", script}, nil
	case "bash":
		return "bash", []string{"--noprofile", "--norc", "-e", "-o", "pipefail", "-c", script}, nil
	case "python":
		return "python", []string{"-c", script}, nil
	default:
		fields := strings.Fields(shell)
		if len(fields) == 0 {
			return "", nil, fmt.Errorf("invalid shell %q", shell)
		}
		return fields[0], append(fields[1:], "-c", script), nil
	}
}
