// File: internal/planner/gemini.go
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"

	"context"
)

// GeminiClient implements schemas.LLMClient against the Gemini REST API.
// It performs exactly one call per Generate: the adapter contract forbids
// automatic retries, so transient handling belongs to the caller.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

// -- Gemini API request/response structures (internal to this file) --

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequestPayload struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig,omitempty"`
}

type geminiResponsePayload struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient initializes the client. The API key is validated at process
// start, not here per request.
func NewGeminiClient(cfg config.PlannerConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &GeminiClient{
		apiKey:    cfg.APIKey,
		endpoint:  endpoint,
		maxTokens: cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends the prompts to the Gemini API and returns the generated text
// together with the raw model latency.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (schemas.GenerationResult, error) {
	payload := geminiRequestPayload{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.UserPrompt}}},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     float64(req.Temperature),
			MaxOutputTokens: c.maxTokens,
		},
	}
	if req.ForceJSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.GenerationResult{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return schemas.GenerationResult{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return schemas.GenerationResult{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return schemas.GenerationResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Gemini API returned error status", zap.Int("status", resp.StatusCode), zap.ByteString("response", respBody))
		return schemas.GenerationResult{}, fmt.Errorf("gemini API error: status %d", resp.StatusCode)
	}

	var responsePayload geminiResponsePayload
	if err := json.Unmarshal(respBody, &responsePayload); err != nil {
		return schemas.GenerationResult{}, fmt.Errorf("failed to decode response payload: %w", err)
	}
	if len(responsePayload.Candidates) == 0 {
		return schemas.GenerationResult{}, fmt.Errorf("gemini API returned no candidates")
	}
	candidate := responsePayload.Candidates[0]
	if len(candidate.Content.Parts) == 0 {
		return schemas.GenerationResult{}, fmt.Errorf("gemini API returned empty content parts (reason: %s)", candidate.FinishReason)
	}

	c.logger.Debug("LLM generation complete",
		zap.Duration("latency", latency),
		zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
		zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
	)

	return schemas.GenerationResult{
		Text:    candidate.Content.Parts[0].Text,
		Latency: latency,
	}, nil
}
