package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scribe/pkg/provider/llm"
)

func TestParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	params, err := p.params(llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize."},
			{Role: llm.RoleUser, Content: "<Alice>Hi</Alice>"},
			{Role: llm.RoleAssistant, Content: "Alice said hi."},
		},
		Temperature: 0.3,
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	m := params.Messages
	if len(m) != 3 || m[0].OfSystem == nil || m[1].OfUser == nil || m[2].OfAssistant == nil {
		t.Errorf("messages mapped wrongly: %+v", m)
	}
	if !params.Temperature.Valid() || params.Temperature.Value != 0.3 {
		t.Errorf("temperature = %+v", params.Temperature)
	}
	if params.MaxCompletionTokens.Valid() {
		t.Error("max tokens sent although unset")
	}

	for name, req := range map[string]llm.CompletionRequest{
		"empty log":    {},
		"unknown role": {Messages: []llm.Message{{Role: "tool", Content: "x"}}},
	} {
		if _, err := p.params(req); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr string
	}{
		{name: "hosted", key: "sk-test", model: "gpt-4o", opts: []Option{WithOrganization("org-1"), WithTimeout(time.Minute), WithMaxRetries(1)}},
		{name: "local server without key", model: "llama3", opts: []Option{WithBaseURL("http://localhost:8080/v1")}},
		{name: "hosted without key", model: "gpt-4o", wantErr: "api key"},
		{name: "no model", key: "sk-test", wantErr: "model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.key, tt.model, tt.opts...)
			if tt.wantErr == "" && err != nil {
				t.Fatalf("New: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var seen struct {
		Auth     string
		Model    string           `json:"model"`
		Messages []map[string]any `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		seen.Auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "The party met a dragon."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18}
		}`))
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "Summarize."},
		{Role: llm.RoleUser, Content: "<Alice>A dragon!</Alice>"},
	}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "The party met a dragon." || resp.Usage.PromptTokens != 12 || resp.Usage.TotalTokens != 18 {
		t.Errorf("response = %+v", resp)
	}
	if seen.Auth != "Bearer sk-test" || seen.Model != "gpt-4o-mini" {
		t.Errorf("request auth %q model %q", seen.Auth, seen.Model)
	}
	if len(seen.Messages) != 2 || seen.Messages[0]["role"] != "system" || seen.Messages[1]["content"] != "<Alice>A dragon!</Alice>" {
		t.Errorf("server saw %v", seen.Messages)
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New("", "gpt-4o", WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if err == nil || !strings.Contains(err.Error(), "openai: chat completion") {
		t.Errorf("err = %v", err)
	}
}
