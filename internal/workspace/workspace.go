package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirName is the per-workspace directory holding config, logs and databases.
const StateDirName = ".planloop"

// ErrOutsideWorkspace is returned when a path escapes the workspace root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Workspace defines workspace-relative paths for planloop operations.
type Workspace struct {
	Root        string
	StateDir    string
	ConfigPath  string
	AuditDBPath string
	RunsDBPath  string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// EnsureDirs creates the state directory.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	if err := os.MkdirAll(w.StateDir, 0o755); err != nil {
		return fmt.Errorf("ensure %s: %w", w.StateDir, err)
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the
// state directory. It is used for configured file locations, which may live
// anywhere.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.StateDir, expanded))
}

// Contain resolves a tool-supplied path against the root and rejects anything
// that escapes it. It returns the absolute path and the slash-separated
// workspace-relative form.
func (w *Workspace) Contain(path string) (string, string, error) {
	if w == nil {
		return "", "", fmt.Errorf("workspace is nil")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(w.Root, path)
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return abs, filepath.ToSlash(rel), nil
}

func newWorkspace(root string) *Workspace {
	state := filepath.Join(root, StateDirName)
	return &Workspace{
		Root:        root,
		StateDir:    state,
		ConfigPath:  filepath.Join(state, "config.yaml"),
		AuditDBPath: filepath.Join(state, "audit.sqlite"),
		RunsDBPath:  filepath.Join(state, "runs.sqlite"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
