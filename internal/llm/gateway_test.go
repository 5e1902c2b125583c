package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingProvider struct {
	name     string
	chatErr  error
	lastChat ChatRequest
	chats    int
}

func (p *capturingProvider) Name() string { return p.name }

func (p *capturingProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.chats++
	p.lastChat = req
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	return &ChatResponse{Provider: p.name, Model: req.Model, Content: "ok"}, nil
}

func (p *capturingProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	return &EmbeddingResponse{Provider: p.name, Model: req.Model, Embeddings: [][]float32{{0.1}}}, nil
}

func TestGatewayChatInjectsDefaultModel(t *testing.T) {
	p := &capturingProvider{name: "openai"}
	g := &gateway{
		providers:       map[string]Provider{"openai": p},
		defaultProvider: "openai",
		defaultModel:    "gpt-4o-mini",
	}

	resp, err := g.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", p.lastChat.Model, "a request without a model gets the configured default")
	assert.Equal(t, "gpt-4o-mini", resp.Model)
}

func TestGatewayChatKeepsExplicitModel(t *testing.T) {
	p := &capturingProvider{name: "openai"}
	g := &gateway{
		providers:       map[string]Provider{"openai": p},
		defaultProvider: "openai",
		defaultModel:    "gpt-4o-mini",
	}

	_, err := g.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", p.lastChat.Model)
}

func TestGatewayChatFallbackUsesFallbackModel(t *testing.T) {
	primary := &capturingProvider{name: "openai", chatErr: assert.AnError}
	fallback := &capturingProvider{name: "anthropic"}
	g := &gateway{
		providers:        map[string]Provider{"openai": primary, "anthropic": fallback},
		defaultProvider:  "openai",
		defaultModel:     "gpt-4o-mini",
		fallbackProvider: "anthropic",
		fallbackModel:    "claude-3-5-haiku-latest",
	}

	resp, err := g.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Positive(t, primary.chats)
	assert.Equal(t, "claude-3-5-haiku-latest", fallback.lastChat.Model,
		"the fallback provider must not receive the primary's model name")
	assert.Equal(t, "anthropic", resp.Provider)
}

func TestGatewayEmbedInjectsEmbeddingModel(t *testing.T) {
	p := &capturingProvider{name: "openai"}
	g := &gateway{
		providers:       map[string]Provider{"openai": p},
		defaultProvider: "openai",
		embeddingModel:  "text-embedding-3-small",
	}

	resp, err := g.Embed(context.Background(), EmbeddingRequest{Input: []string{"chunk"}})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", resp.Model)
}
