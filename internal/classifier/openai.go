package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const systemPrompt = `You are an expert AI assistant that triages support tickets.
Given a ticket, respond with ONLY a JSON object, no markdown or code fences, with these keys:
- "summary": a short 1-2 sentence summary of the issue.
- "priority": one of "low", "medium", "high".
- "helpfulNotes": a detailed technical explanation a moderator can use to solve the issue, including useful references.
- "relatedSkills": an array of relevant skills required to solve the issue (e.g. ["React", "MongoDB"]).`

// OpenAIClassifier calls an OpenAI-compatible chat completions API.
type OpenAIClassifier struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	logger  *zap.Logger
}

// Option configures an OpenAIClassifier.
type Option func(*OpenAIClassifier)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) Option {
	return func(c *OpenAIClassifier) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *OpenAIClassifier) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *OpenAIClassifier) { c.client = client }
}

// WithTimeout bounds each classification request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *OpenAIClassifier) { c.client = &http.Client{Timeout: timeout} }
}

// WithLogger sets the logger used to report failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *OpenAIClassifier) { c.logger = logger }
}

// NewOpenAI creates a classifier for the given API key.
func NewOpenAI(apiKey string, opts ...Option) *OpenAIClassifier {
	c := &OpenAIClassifier{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.openai.com/v1",
		apiKey:  apiKey,
		model:   "gpt-4o-mini",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns nil on transport, status or parse failures.
func (c *OpenAIClassifier) Classify(ctx context.Context, title, description string) *Classification {
	content, err := c.complete(ctx, fmt.Sprintf("Analyze the following support ticket.\n\nTitle: %s\nDescription: %s", title, description))
	if err != nil {
		c.logger.Warn("ticket classification failed", zap.Error(err))
		return nil
	}
	result, err := Parse(content)
	if err != nil {
		c.logger.Warn("unparseable classification", zap.Error(err), zap.String("content", truncate(content, 500)))
		return nil
	}
	return result
}

func (c *OpenAIClassifier) complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// Parse extracts a Classification from model output, tolerating a
// surrounding markdown code fence.
func Parse(content string) (*Classification, error) {
	raw := stripCodeFence(content)
	if raw == "" {
		return nil, fmt.Errorf("empty classification")
	}
	var result Classification
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	return &result, nil
}

func stripCodeFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}
