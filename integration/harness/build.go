// Package harness builds the planloop binary and runs it against temporary
// workspaces for the smoke tests.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// EnvBinary names a prebuilt binary to test instead of building one.
const EnvBinary = "PLANLOOP_TEST_BINARY"

var (
	buildOnce sync.Once
	buildPath string
	buildErr  error
)

// RepoRoot returns the module root, two directories above this file.
func RepoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve repo root: runtime.Caller failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}
	return root
}

// BuildBinary returns the planloop binary, compiling it once per test run.
func BuildBinary(t *testing.T) string {
	t.Helper()
	if bin := os.Getenv(EnvBinary); bin != "" {
		return bin
	}
	root := RepoRoot(t)

	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "planloop-bin-")
		if err != nil {
			buildErr = fmt.Errorf("create temp dir: %w", err)
			return
		}
		out := filepath.Join(dir, "planloop")
		if runtime.GOOS == "windows" {
			out += ".exe"
		}

		cmd := exec.Command("go", "build", "-trimpath", "-o", out, "./cmd/planloop")
		cmd.Dir = root
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, stderr.String())
			return
		}
		buildPath = out
	})

	if buildErr != nil {
		t.Fatalf("build planloop binary: %v", buildErr)
	}
	return buildPath
}
