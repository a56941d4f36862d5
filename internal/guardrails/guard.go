package guardrails

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrProtectedPath is returned when a tool targets a protected path.
var ErrProtectedPath = errors.New("path is protected")

// PathGuard rejects writes to workspace-relative paths matching any protected glob.
type PathGuard struct {
	Protected []string
}

// NewPathGuard validates the glob patterns up front.
func NewPathGuard(patterns []string) (*PathGuard, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid protected pattern %q", p)
		}
	}
	return &PathGuard{Protected: append([]string(nil), patterns...)}, nil
}

// Check returns ErrProtectedPath when rel (slash separated) is protected.
// A pattern ending in "/**" also protects the directory itself.
func (g *PathGuard) Check(rel string) error {
	if g == nil {
		return nil
	}
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	for _, pattern := range g.Protected {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return fmt.Errorf("%w: %s (matches %s)", ErrProtectedPath, rel, pattern)
		}
		if base, found := strings.CutSuffix(pattern, "/**"); found && rel == base {
			return fmt.Errorf("%w: %s (matches %s)", ErrProtectedPath, rel, pattern)
		}
	}
	return nil
}

// SnapshotDirHash hashes every file under dir except those matching skip
// globs. It returns an empty string when dir does not exist.
func SnapshotDirHash(dir string, skip []string) (string, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relPath)
		if rel != "." && skipped(rel, d.IsDir(), skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk dir: %w", err)
	}

	sort.Strings(files)

	h := sha256.New()
	for _, rel := range files {
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", fmt.Errorf("open %s: %w", rel, err)
		}
		fh := sha256.New()
		if _, err := io.Copy(fh, f); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
		_ = f.Close()

		_, _ = h.Write([]byte(rel))
		_, _ = h.Write(fh.Sum(nil))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func skipped(rel string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if isDir {
			if base, found := strings.CutSuffix(pattern, "/**"); found && rel == base {
				return true
			}
		}
	}
	return false
}

// IntegrityCheck captures workspace hashes before and after a run.
type IntegrityCheck struct {
	Dir        string
	Skip       []string
	BeforeHash string
	AfterHash  string
}

// NewIntegrityCheck records the current state of dir.
func NewIntegrityCheck(dir string, skip []string) (*IntegrityCheck, error) {
	before, err := SnapshotDirHash(dir, skip)
	if err != nil {
		return nil, fmt.Errorf("capture before snapshot: %w", err)
	}
	return &IntegrityCheck{Dir: dir, Skip: skip, BeforeHash: before}, nil
}

// CaptureAfter records the post-run state.
func (c *IntegrityCheck) CaptureAfter() error {
	after, err := SnapshotDirHash(c.Dir, c.Skip)
	if err != nil {
		return fmt.Errorf("capture after snapshot: %w", err)
	}
	c.AfterHash = after
	return nil
}

// HasChanges reports whether the workspace changed between the two snapshots.
func (c *IntegrityCheck) HasChanges() bool {
	return c.BeforeHash != c.AfterHash
}

// SanitizeError strips newlines and truncates messages stored in reports.
func SanitizeError(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", " ")
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > 500 {
		msg = msg[:497] + "..."
	}
	return msg
}
