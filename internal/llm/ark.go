package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

const storySystemPrompt = "You are a children's story writer. Follow the requested output format exactly."

// ArkModel 基于eino编排的方舟对话模型
type ArkModel struct {
	runnable compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewArkModel 创建方舟对话模型
func NewArkModel(ctx context.Context, apiKey, modelName string, httpClient *http.Client) (*ArkModel, error) {
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:     apiKey,
		HTTPClient: httpClient,
		Model:      modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewGraphModel(ctx, chatModel)
}

// NewGraphModel 将任意对话模型编译为单节点图
func NewGraphModel(ctx context.Context, chatModel einomodel.BaseChatModel) (*ArkModel, error) {
	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("failed to add model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "model"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, err
	}
	runnable, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	return &ArkModel{runnable: runnable}, nil
}

// Generate 单轮生成
func (m *ArkModel) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(storySystemPrompt),
		schema.UserMessage(prompt),
	}
	res, err := m.runnable.Invoke(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("graph invocation failed: %w", err)
	}
	if res == nil || res.Content == "" {
		return "", errors.New("empty chat content")
	}
	return res.Content, nil
}

var _ TextModel = (*ArkModel)(nil)
