// Package contextgather selects workspace files relevant to a request and
// formats them for model prompts.
package contextgather

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"planloop/internal/config"
	"planloop/internal/logging"
)

// File is one workspace file included in the context.
type File struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// Context is the gathered workspace view for one request.
type Context struct {
	Root    string   `json:"root"`
	Request string   `json:"request"`
	Tree    []string `json:"tree"`
	Files   []File   `json:"files"`
	Omitted int      `json:"omitted"`
}

type Gatherer struct {
	root   string
	cfg    config.ContextConfig
	logger *logging.Logger
}

func New(root string, cfg config.ContextConfig, logger *logging.Logger) (*Gatherer, error) {
	for _, p := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid context pattern %q", p)
		}
	}
	return &Gatherer{root: root, cfg: cfg, logger: logger}, nil
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Gather walks the workspace, keeps files matching the include globs and
// not the exclude globs, and loads the most relevant ones within the byte
// budgets. Files whose paths mention request words rank first.
func (g *Gatherer) Gather(ctx context.Context, request string) (Context, error) {
	out := Context{Root: g.root, Request: request}
	var candidates []string

	err := filepath.WalkDir(g.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(g.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if g.excluded(rel) || g.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || g.excluded(rel) || !g.included(rel) {
			return nil
		}
		candidates = append(candidates, rel)
		return nil
	})
	if err != nil {
		return Context{}, fmt.Errorf("walk workspace: %w", err)
	}

	sort.Strings(candidates)
	out.Tree = candidates
	ranked := rank(candidates, request)

	total := 0
	for _, rel := range ranked {
		if g.cfg.MaxFiles > 0 && len(out.Files) >= g.cfg.MaxFiles {
			break
		}
		if g.cfg.MaxTotalBytes > 0 && total >= g.cfg.MaxTotalBytes {
			break
		}
		file, ok, err := g.load(rel, g.cfg.MaxTotalBytes-total)
		if err != nil {
			g.logger.Warn("skip context file", "path", rel, "error", err)
			continue
		}
		if !ok {
			continue
		}
		total += len(file.Content)
		out.Files = append(out.Files, file)
	}
	out.Omitted = len(candidates) - len(out.Files)
	g.logger.Debug("context gathered", "candidates", len(candidates), "files", len(out.Files), "bytes", total)
	return out, nil
}

func (g *Gatherer) included(rel string) bool {
	if len(g.cfg.Include) == 0 {
		return true
	}
	return matchAny(g.cfg.Include, rel)
}

func (g *Gatherer) excluded(rel string) bool {
	return matchAny(g.cfg.Exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// load reads rel, skipping binary files. remaining caps the content size
// when a total budget is configured.
func (g *Gatherer) load(rel string, remaining int) (File, bool, error) {
	abs := filepath.Join(g.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return File{}, false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return File{}, false, err
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return File{}, false, nil
	}

	limit := g.cfg.MaxFileBytes
	if g.cfg.MaxTotalBytes > 0 && (limit <= 0 || remaining < limit) {
		limit = remaining
	}
	file := File{Path: rel, Size: info.Size(), Content: string(data)}
	if limit > 0 && len(data) > limit {
		file.Content = string(data[:limit])
		file.Truncated = true
	}
	return file, true, nil
}

func rank(paths []string, request string) []string {
	var words []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(request), -1) {
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	score := make(map[string]int, len(paths))
	for _, p := range paths {
		lower := strings.ToLower(p)
		for _, w := range words {
			if strings.Contains(lower, w) {
				score[p]++
			}
		}
	}
	ranked := append([]string(nil), paths...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if score[ranked[i]] != score[ranked[j]] {
			return score[ranked[i]] > score[ranked[j]]
		}
		return strings.Count(ranked[i], "/") < strings.Count(ranked[j], "/")
	})
	return ranked
}

// Format renders the context as a prompt section.
func (g *Gatherer) Format(c Context) string {
	var b strings.Builder
	if len(c.Tree) == 0 {
		b.WriteString("The workspace is empty.\n")
		return b.String()
	}
	b.WriteString("### Files in workspace\n")
	for _, p := range c.Tree {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	for _, f := range c.Files {
		fmt.Fprintf(&b, "\n### %s\n```%s\n", f.Path, fenceLang(f.Path))
		b.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
		if f.Truncated {
			fmt.Fprintf(&b, "(truncated, %d bytes total)\n", f.Size)
		}
	}
	if c.Omitted > 0 {
		fmt.Fprintf(&b, "\n%d more files not shown.\n", c.Omitted)
	}
	return b.String()
}

func fenceLang(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch ext {
	case "yml":
		return "yaml"
	case "py":
		return "python"
	case "js":
		return "javascript"
	case "ts":
		return "typescript"
	case "md":
		return "markdown"
	default:
		return ext
	}
}
