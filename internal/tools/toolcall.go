// Package tools parses model-produced tool calls and applies them to the
// workspace.
package tools

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownTool is returned for tool names the executor does not implement.
var ErrUnknownTool = errors.New("unknown tool")

const (
	CreateFile = "create_file"
	WriteFile  = "write_file"
	EditFile   = "edit_file"
	AppendFile = "append_file"
	DeleteFile = "delete_file"
	ReadFile   = "read_file"
	Mkdir      = "mkdir"
)

// ToolCall is one discrete workspace action.
type ToolCall struct {
	Tool   string         `json:"tool" yaml:"tool"`
	Params map[string]any `json:"params" yaml:"params"`
}

// Outcome is the executor's result for one call. Fields carries
// tool-specific data such as the resolved path or a unified diff.
type Outcome struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Verification is the post-execution check of one call.
type Verification struct {
	Verified   bool   `json:"verified"`
	Issues     string `json:"issues,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

type toolSpec struct {
	name   string
	params string
	desc   string
}

var toolSpecs = []toolSpec{
	{CreateFile, "path, content", "create a new file; fails if it already exists"},
	{WriteFile, "path, content", "create or overwrite a file"},
	{EditFile, "path, old_text, new_text, replace_all (optional)", "replace an exact snippet in an existing file"},
	{AppendFile, "path, content", "append content to a file, creating it if missing"},
	{DeleteFile, "path", "delete a file"},
	{ReadFile, "path", "read a file"},
	{Mkdir, "path", "create a directory and its parents"},
}

// Known reports whether name is an implemented tool.
func Known(name string) bool {
	for _, s := range toolSpecs {
		if s.name == name {
			return true
		}
	}
	return false
}

// Describe lists the available tools for prompts.
func Describe() string {
	var b strings.Builder
	for _, s := range toolSpecs {
		fmt.Fprintf(&b, "- %s(%s): %s\n", s.name, s.params, s.desc)
	}
	return b.String()
}

// Path returns the call's path parameter, or "".
func (c ToolCall) Path() string {
	s, _ := c.stringParam("path")
	return s
}

func (c ToolCall) String() string {
	if p := c.Path(); p != "" {
		return fmt.Sprintf("%s(%s)", c.Tool, p)
	}
	return c.Tool
}

// stringParam returns the first present key. Scalars are formatted so a
// model writing `content: 42` still produces a file.
func (c ToolCall) stringParam(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := c.Params[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t, true
		case int:
			return strconv.Itoa(t), true
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(t), true
		default:
			return fmt.Sprint(t), true
		}
	}
	return "", false
}

func (c ToolCall) boolParam(key string) bool {
	switch t := c.Params[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}
