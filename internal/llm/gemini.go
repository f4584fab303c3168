package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiModel 基于Gemini API的文本模型
type GeminiModel struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// GeminiOption Gemini客户端可选项
type GeminiOption func(*genai.ClientConfig)

// WithBaseURL 指定接口地址
func WithBaseURL(url string) GeminiOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// NewGeminiModel 创建Gemini文本模型
func NewGeminiModel(ctx context.Context, apiKey, model string, opts ...GeminiOption) (*GeminiModel, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cc)
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiModel{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.7),
			TopK:        genai.Ptr[float32](40),
			TopP:        genai.Ptr[float32](0.8),
		},
	}, nil
}

// Generate 单轮生成
func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, m.config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty gemini response")
	}
	return text, nil
}

var _ TextModel = (*GeminiModel)(nil)
