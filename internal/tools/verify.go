package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"planloop/internal/workspace"
)

// Verifier checks that an executed call left the workspace in the expected
// state. It reads the filesystem as the call left it.
type Verifier struct {
	ws *workspace.Workspace
}

func NewVerifier(ws *workspace.Workspace) *Verifier {
	return &Verifier{ws: ws}
}

func (v *Verifier) Verify(ctx context.Context, call ToolCall, out Outcome) Verification {
	if err := ctx.Err(); err != nil {
		return Verification{Issues: err.Error()}
	}
	if !out.Success {
		return Verification{Issues: out.Error, Suggestion: suggestionFor(call, out.Error)}
	}

	abs, rel, err := v.ws.Contain(call.Path())
	if err != nil {
		return Verification{Issues: err.Error(), Suggestion: "Use a path relative to the workspace root."}
	}

	switch call.Tool {
	case CreateFile, WriteFile:
		want, _ := call.stringParam("content")
		return expectContent(abs, rel, func(got string) bool { return got == want },
			"content does not match what was written")
	case AppendFile:
		want, _ := call.stringParam("content")
		return expectContent(abs, rel, func(got string) bool { return strings.HasSuffix(got, want) },
			"file does not end with the appended content")
	case EditFile:
		want, _ := call.stringParam("new_text", "new", "replace")
		return expectContent(abs, rel, func(got string) bool { return strings.Contains(got, want) },
			"file does not contain the replacement text")
	case DeleteFile:
		if _, err := os.Stat(abs); !errors.Is(err, fs.ErrNotExist) {
			return Verification{Issues: fmt.Sprintf("%s still exists", rel)}
		}
		return Verification{Verified: true}
	case Mkdir:
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return Verification{Issues: fmt.Sprintf("directory %s was not created", rel)}
		}
		return Verification{Verified: true}
	case ReadFile:
		return Verification{Verified: true}
	default:
		return Verification{Issues: fmt.Sprintf("cannot verify unknown tool %q", call.Tool)}
	}
}

func expectContent(abs, rel string, ok func(string) bool, issue string) Verification {
	data, err := os.ReadFile(abs)
	if err != nil {
		return Verification{Issues: fmt.Sprintf("%s is not readable after the call: %v", rel, err)}
	}
	if !ok(string(data)) {
		return Verification{Issues: fmt.Sprintf("%s: %s", rel, issue), Suggestion: "Rewrite the file with write_file and the full intended content."}
	}
	return Verification{Verified: true}
}

func suggestionFor(call ToolCall, errMsg string) string {
	lower := strings.ToLower(errMsg)
	switch {
	case strings.Contains(lower, "already exists"):
		return "Use write_file to overwrite the existing file, or edit_file to change part of it."
	case strings.Contains(lower, "old_text not found"):
		return "Read the file first and copy old_text exactly as it appears, including whitespace."
	case strings.Contains(lower, "matches") && strings.Contains(lower, "times"):
		return "Include more surrounding lines in old_text so it matches once, or set replace_all."
	case strings.Contains(lower, "file not found"):
		if call.Tool == EditFile {
			return "Create the file with create_file before editing it."
		}
		return "Check the path; the file does not exist."
	case strings.Contains(lower, "protected"):
		return "Choose a path outside the protected areas of the workspace."
	case strings.Contains(lower, "outside the workspace"):
		return "Use a path relative to the workspace root."
	case strings.Contains(lower, "unknown tool"):
		return "Use one of the available tools: " + strings.TrimSpace(strings.ReplaceAll(Describe(), "\n", " "))
	case strings.Contains(lower, "is required"):
		return "Supply every required parameter for " + call.Tool + "."
	default:
		return "Inspect the error and issue a corrected tool call."
	}
}
