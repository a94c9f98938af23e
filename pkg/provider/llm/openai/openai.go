// Package openai implements the summary model over the OpenAI chat
// completions API. Any server speaking that protocol works with
// [WithBaseURL].
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/scribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is an [llm.Provider] for one chat model.
type Provider struct {
	client oai.Client
	model  string
}

type settings struct {
	baseURL string
	request []option.RequestOption
}

// Option tunes the client built by [New].
type Option func(*settings)

// WithBaseURL targets an OpenAI-compatible server instead of api.openai.com.
// Such servers may run without an API key.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
		s.request = append(s.request, option.WithBaseURL(url))
	}
}

// WithOrganization bills requests to org.
func WithOrganization(org string) Option {
	return func(s *settings) { s.request = append(s.request, option.WithOrganization(org)) }
}

// WithTimeout bounds every HTTP request, retries included.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.request = append(s.request, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithMaxRetries overrides the client's retry count for failed requests.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.request = append(s.request, option.WithMaxRetries(n)) }
}

// New creates a provider for model. apiKey may only be empty together with
// [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	switch {
	case model == "":
		return nil, errors.New("openai: model is required")
	case apiKey == "" && s.baseURL == "":
		return nil, errors.New("openai: api key is required for api.openai.com")
	}
	if apiKey != "" {
		s.request = append([]option.RequestOption{option.WithAPIKey(apiKey)}, s.request...)
	}
	return &Provider{client: oai.NewClient(s.request...), model: model}, nil
}

// Complete sends the chat log and returns the first choice.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// Capabilities looks the model family up in [llm.CapabilitiesFor].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return llm.CapabilitiesFor(p.model)
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("empty chat log")
	}
	out := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, len(req.Messages)),
	}
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			out.Messages[i] = oai.SystemMessage(m.Content)
		case llm.RoleUser:
			out.Messages[i] = oai.UserMessage(m.Content)
		case llm.RoleAssistant:
			out.Messages[i] = oai.AssistantMessage(m.Content)
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	if req.Temperature != 0 {
		out.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return out, nil
}
