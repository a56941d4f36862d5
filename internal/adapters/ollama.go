package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaAdapter generates text through a local Ollama server.
type OllamaAdapter struct {
	client *api.Client
}

func NewOllamaAdapter(baseURL string, httpClient *http.Client) (*OllamaAdapter, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaAdapter{client: api.NewClient(u, httpClient)}, nil
}

func (a *OllamaAdapter) Name() string {
	return "ollama"
}

func (a *OllamaAdapter) Generate(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		return "", errors.New("model is required")
	}
	stream := false
	genReq := &api.GenerateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": req.Options.Temperature,
		},
	}
	if req.Options.NumPredict > 0 {
		genReq.Options["num_predict"] = req.Options.NumPredict
	}

	var out strings.Builder
	err := a.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return out.String(), nil
}

// ListModels returns the names of the models installed on the server.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	resp, err := a.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ollama list: %w", err)
	}
	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return models, nil
}
