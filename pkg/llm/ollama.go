package llm

import (
	"context"
	"strings"

	"github.com/dvilelaf/tsunami/pkg/clients"
)

// OllamaProvider talks to Ollama's OpenAI-compatible endpoint.
type OllamaProvider struct {
	openai *OpenAIProvider
}

func NewOllamaProvider(cfg Config, opts ...clients.Option) *OllamaProvider {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "http://localhost:11434/v1"
	}
	return &OllamaProvider{openai: NewOpenAIProvider(cfg, opts...)}
}

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (Stream, error) {
	return p.openai.Complete(ctx, req)
}
