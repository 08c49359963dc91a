package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI implements CompletionProvider against any OpenAI-compatible
// chat-completions endpoint (OpenAI, OpenRouter, Anthropic's compat layer).
type OpenAI struct {
	apiKey     string
	apiBase    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(apiKey, apiBase, model string, maxTokens int) *OpenAI {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAI{
		apiKey:    apiKey,
		apiBase:   strings.TrimSuffix(apiBase, "/"),
		model:     model,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAI) buildRequest(req *Request, stream bool) *openAIRequest {
	model := req.ModelHint
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	msgs := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}
	return &openAIRequest{Model: model, Messages: msgs, MaxTokens: maxTokens, Stream: stream}
}

func (p *OpenAI) post(ctx context.Context, body *openAIRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrKindTimeout, Message: err.Error()}
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		kind := classifyStatus(resp.StatusCode)
		return nil, &Error{Kind: kind, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 512))}
	}
	return resp, nil
}

// Complete sends a completion request and returns the response.
func (p *OpenAI) Complete(ctx context.Context, req *Request) (*Completion, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, &Error{Kind: apiResp.Error.Type, Message: apiResp.Error.Message}
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}
	return &Completion{
		Text: apiResp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming completion request and delivers delta chunks to fn.
func (p *OpenAI) Stream(ctx context.Context, req *Request, fn func(Chunk)) (*Completion, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var ev openAIResponse
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Usage.TotalTokens > 0 {
			usage = Usage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}
		}
		if len(ev.Choices) == 0 || ev.Choices[0].Delta.Content == "" {
			continue
		}
		full.WriteString(ev.Choices[0].Delta.Content)
		fn(Chunk{Text: ev.Choices[0].Delta.Content})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	fn(Chunk{Done: true})
	if usage.TotalTokens == 0 {
		usage.TotalTokens = approxTokens(full.String())
		usage.CompletionTokens = usage.TotalTokens
	}
	return &Completion{Text: full.String(), Usage: usage}, nil
}

func classifyStatus(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrKindInvalidKey
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrKindTimeout
	default:
		return "upstream"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
