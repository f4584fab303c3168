package llm

import "context"

// TextModel 文本生成模型
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
