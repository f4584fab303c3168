package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"wisestory/internal/model"
	"wisestory/internal/service"
)

// ErrInvalidArguments 工具参数无法解析或缺少必填项
var ErrInvalidArguments = errors.New("invalid tool arguments")

// StoryGenerator 故事内容生成
type StoryGenerator interface {
	Generate(ctx context.Context, sc service.StoryContext) (*model.StoryContent, error)
}

// StoryTool 实现eino框架的故事生成工具
type StoryTool struct {
	generator StoryGenerator
}

// StoryToolArgs 故事生成请求参数
type StoryToolArgs struct {
	Title       string `json:"title"`       // 故事标题
	Description string `json:"description"` // 故事描述
	AgeGroup    string `json:"ageGroup"`    // 年龄段
	Language    string `json:"language"`    // 语言
}

// StoryToolResp 故事生成响应
type StoryToolResp struct {
	Title   string              `json:"title"`
	Content *model.StoryContent `json:"content"`
	Message string              `json:"message"`
}

// NewStoryTool 创建故事生成工具实例
func NewStoryTool(generator StoryGenerator) *StoryTool {
	return &StoryTool{generator: generator}
}

// Info 获取故事生成工具信息
func (t *StoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"title":       {Type: schema.String, Required: true, Desc: "故事标题"},
		"description": {Type: schema.String, Required: false, Desc: "故事梗概"},
		"ageGroup":    {Type: schema.String, Required: false, Desc: "目标年龄段", Enum: []string{"3-5", "5-8", "8-12"}},
		"language":    {Type: schema.String, Required: false, Desc: "故事语言", Enum: []string{"en", "es", "fr"}},
	}
	return &schema.ToolInfo{
		Name:        "story_generate",
		Desc:        "为儿童创作插画故事，返回章节、场景和每个场景的插图提示词",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行故事生成任务
func (t *StoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args StoryToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.Title == "" {
		return "", fmt.Errorf("%w: title required", ErrInvalidArguments)
	}
	if args.AgeGroup == "" {
		args.AgeGroup = string(model.AgeGroup5To8)
	}
	if args.Language == "" {
		args.Language = string(model.LanguageEnglish)
	}

	content, err := t.generator.Generate(ctx, service.StoryContext{
		Title:       args.Title,
		Description: args.Description,
		AgeGroup:    model.AgeGroup(args.AgeGroup),
		Language:    model.Language(args.Language),
	})
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(StoryToolResp{
		Title:   args.Title,
		Content: content,
		Message: "故事生成完成",
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保StoryTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*StoryTool)(nil)
