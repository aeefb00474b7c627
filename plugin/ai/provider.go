package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	apierrors "github.com/christoph-codes/RecallAI-sub000/internal/errors"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// CompletionOptions carries per-request generation parameters. Zero values
// fall back to the configured defaults.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

const defaultMaxRetries = 3

// Provider provides embedding and chat generation through an OpenAI-compatible API.
type Provider struct {
	client     *openai.Client
	config     *Config
	maxRetries int
}

// NewProvider creates a new AI provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		clientConfig.BaseURL = cfg.LLM.BaseURL
	}

	return &Provider{
		client:     openai.NewClientWithConfig(clientConfig),
		config:     cfg,
		maxRetries: defaultMaxRetries,
	}, nil
}

// Embedding generates an embedding vector for the given text.
func (p *Provider) Embedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbeddingBatch generates one vector per input text, order-preserving.
// A count mismatch between request and response is a provider failure,
// never silently truncated.
func (p *Provider) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apierrors.InvalidArgument("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.config.Embedding.Model),
		Dimensions: p.config.Embedding.Dimensions,
	}

	var resp openai.EmbeddingResponse
	err := p.doWithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.config.Embedding.Timeout)
		defer cancel()

		var callErr error
		resp, callErr = p.client.CreateEmbeddings(callCtx, req)
		return callErr
	})
	if err != nil {
		return nil, apierrors.ProviderUnavailable("embedding request failed", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, apierrors.ProviderUnavailable("embedding count mismatch", nil)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if int(d.Index) >= len(vectors) {
			return nil, apierrors.ProviderUnavailable("embedding index out of range", nil)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			vectors[i] = resp.Data[i].Embedding
		}
	}

	return vectors, nil
}

// Complete performs a single-shot chat completion.
func (p *Provider) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	req := p.buildChatRequest(messages, opts)

	var result string
	err := p.doWithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.config.LLM.Timeout)
		defer cancel()

		resp, callErr := p.client.CreateChatCompletion(callCtx, req)
		if callErr != nil {
			return callErr
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", apierrors.ProviderUnavailable("chat completion failed", err)
	}

	return result, nil
}

// CompleteStream performs a streaming chat completion. Text deltas are sent
// on the content channel in arrival order; a transport failure is sent on
// the error channel. Both channels are closed when the stream ends.
func (p *Provider) CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan string, <-chan error) {
	contentChan := make(chan string, 16)
	errChan := make(chan error, 1)

	req := p.buildChatRequest(messages, opts)
	req.Stream = true

	go func() {
		defer close(contentChan)
		defer close(errChan)

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			errChan <- apierrors.StreamTransportFailure("failed to open generation stream", err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errChan <- apierrors.StreamTransportFailure("generation stream interrupted", err)
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			select {
			case contentChan <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return contentChan, errChan
}

func (p *Provider) buildChatRequest(messages []Message, opts CompletionOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = p.config.LLM.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.LLM.MaxTokens
	}
	// Zero means unset across CompletionOptions. Callers that need a true
	// temperature of 0 pass math.SmallestNonzeroFloat32, which the openai
	// client still serializes (a real 0 is dropped by omitempty anyway).
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = p.config.LLM.Temperature
	}

	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    llmMessages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// doWithRetry executes a function with exponential backoff retry.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			if attempt < p.maxRetries-1 {
				waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
				slog.Debug("AI request failed, retrying",
					"attempt", attempt+1,
					"wait_time", waitTime,
					"error", err)
				select {
				case <-time.After(waitTime):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return lastErr
}
