package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"planloop/internal/config"
	"planloop/internal/logging"
)

// Options are the generation options passed with every model call.
type Options struct {
	Temperature float64
	NumPredict  int
}

// Request is one generation request handed to a backend.
type Request struct {
	Model   string
	Prompt  string
	Options Options
}

// Response is the outcome of a model call. A failed call never returns a Go
// error; Success is false and Error carries the reason.
type Response struct {
	Success bool
	Text    string
	Error   string
}

// ModelCaller is the capability the loop and refiner use to reach a model.
type ModelCaller interface {
	Call(ctx context.Context, prompt string, model string, opts Options) Response
}

// ModelAdapter defines a model-serving backend.
type ModelAdapter interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// OptionsFor converts a configured model role into call options.
func OptionsFor(role config.ModelRole) Options {
	return Options{Temperature: role.Temperature, NumPredict: role.NumPredict}
}

// New builds the backend selected by cfg. Relative script paths resolve
// against baseDir.
func New(cfg config.BackendConfig, baseDir string) (ModelAdapter, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllamaAdapter(cfg.Ollama.BaseURL, &http.Client{})
	case "exec":
		return &ExecAdapter{Command: cfg.Exec.Command, Args: cfg.Exec.Args, WorkDir: baseDir}, nil
	case "mock":
		return LoadMockAdapter(resolveRelative(baseDir, cfg.Mock.Script))
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}

// Caller wraps a ModelAdapter with a per-call timeout and turns every
// backend error into a failed Response.
type Caller struct {
	adapter ModelAdapter
	timeout time.Duration
	logger  *logging.Logger
}

// NewCaller returns a Caller. A zero timeout disables the deadline.
func NewCaller(adapter ModelAdapter, timeout time.Duration, logger *logging.Logger) *Caller {
	return &Caller{adapter: adapter, timeout: timeout, logger: logger}
}

func (c *Caller) Call(ctx context.Context, prompt string, model string, opts Options) Response {
	if c == nil || c.adapter == nil {
		return Response{Error: "no model backend configured"}
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	c.logger.Debug("model call", "backend", c.adapter.Name(), "model", model, "prompt_chars", len(prompt))
	text, err := c.adapter.Generate(callCtx, Request{Model: model, Prompt: prompt, Options: opts})
	elapsed := time.Since(started)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("model call timed out after %s", c.timeout)
		}
		c.logger.Warn("model call failed", "backend", c.adapter.Name(), "model", model, "error", msg, "elapsed", elapsed)
		return Response{Error: msg}
	}
	c.logger.Debug("model call finished", "backend", c.adapter.Name(), "model", model, "response_chars", len(text), "elapsed", elapsed)
	return Response{Success: true, Text: text}
}
