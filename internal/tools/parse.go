package tools

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var fencePattern = regexp.MustCompile("(?s)```([A-Za-z]*)[ \t]*\r?\n(.*?)```")

type rawCall struct {
	Tool      string         `yaml:"tool"`
	Name      string         `yaml:"name"`
	Params    map[string]any `yaml:"params"`
	Arguments map[string]any `yaml:"arguments"`
}

type rawEnvelope struct {
	ToolCalls []rawCall `yaml:"tool_calls"`
}

// ParseToolCalls extracts tool calls from fenced yaml or json blocks in text.
// Without fences the whole text is decoded. Each block may hold a list of
// calls, a single call, or a mapping with a tool_calls list.
func ParseToolCalls(text string) ([]ToolCall, error) {
	var blocks []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		switch strings.ToLower(m[1]) {
		case "", "yaml", "yml", "json":
			blocks = append(blocks, m[2])
		}
	}
	if len(blocks) == 0 {
		blocks = []string{text}
	}

	var calls []ToolCall
	var errs []error
	for _, block := range blocks {
		parsed, err := decodeBlock(block)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		calls = append(calls, parsed...)
	}
	if len(calls) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("parse tool calls: %w", errors.Join(errs...))
		}
		return nil, errors.New("parse tool calls: no tool calls found")
	}
	return calls, nil
}

func decodeBlock(block string) ([]ToolCall, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(block), &node); err != nil {
		return nil, err
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]

	var raws []rawCall
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&raws); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var env rawEnvelope
		if err := root.Decode(&env); err == nil && len(env.ToolCalls) > 0 {
			raws = env.ToolCalls
			break
		}
		var single rawCall
		if err := root.Decode(&single); err != nil {
			return nil, err
		}
		raws = []rawCall{single}
	default:
		return nil, fmt.Errorf("unexpected yaml node at line %d", root.Line)
	}

	calls := make([]ToolCall, 0, len(raws))
	for _, r := range raws {
		name := strings.TrimSpace(r.Tool)
		if name == "" {
			name = strings.TrimSpace(r.Name)
		}
		if name == "" {
			continue
		}
		params := r.Params
		if params == nil {
			params = r.Arguments
		}
		if params == nil {
			params = map[string]any{}
		}
		calls = append(calls, ToolCall{Tool: name, Params: params})
	}
	return calls, nil
}
