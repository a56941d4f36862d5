package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// MockResponse is one scripted reply. Match and Model filter which calls it
// answers; an Error makes the call fail.
type MockResponse struct {
	Match  string `yaml:"match,omitempty"`
	Model  string `yaml:"model,omitempty"`
	Text   string `yaml:"text,omitempty"`
	Error  string `yaml:"error,omitempty"`
	Repeat bool   `yaml:"repeat,omitempty"`
}

// MockScript is the YAML document read by LoadMockAdapter.
type MockScript struct {
	Responses []MockResponse `yaml:"responses"`
}

// MockAdapter is a deterministic, offline backend that answers from a
// script. Each call takes the first unused response whose filters match.
type MockAdapter struct {
	mu        sync.Mutex
	responses []MockResponse
	used      []bool
	prompts   []Request
}

// NewMockAdapter returns a MockAdapter answering from responses in order.
func NewMockAdapter(responses ...MockResponse) *MockAdapter {
	return &MockAdapter{responses: responses, used: make([]bool, len(responses))}
}

// LoadMockAdapter reads a YAML script file.
func LoadMockAdapter(path string) (*MockAdapter, error) {
	if path == "" {
		return nil, errors.New("mock script path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock script: %w", err)
	}
	var script MockScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse mock script: %w", err)
	}
	return NewMockAdapter(script.Responses...), nil
}

func (a *MockAdapter) Name() string {
	return "mock"
}

func (a *MockAdapter) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, req)

	for i, resp := range a.responses {
		if a.used[i] {
			continue
		}
		if resp.Model != "" && resp.Model != req.Model {
			continue
		}
		if resp.Match != "" && !strings.Contains(req.Prompt, resp.Match) {
			continue
		}
		if !resp.Repeat {
			a.used[i] = true
		}
		if resp.Error != "" {
			return "", errors.New(resp.Error)
		}
		return resp.Text, nil
	}
	return "", fmt.Errorf("mock script has no response for model %q", req.Model)
}

// Requests returns every request received so far.
func (a *MockAdapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Request, len(a.prompts))
	copy(out, a.prompts)
	return out
}
