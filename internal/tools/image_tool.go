package tools

import (
	"context"
	"encoding/json"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"wisestory/internal/imagegen"
	"wisestory/internal/storage"
)

const toolImageFolder = "tool-images"

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Image, error)
}

type ImageUploader interface {
	Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (string, error)
}

type ImageTool struct {
	generator ImageGenerator
	uploader  ImageUploader
}

type ImageToolArgs struct {
	Prompt string `json:"prompt"`
}

type ImageToolResp struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

func NewImageTool(generator ImageGenerator, uploader ImageUploader) *ImageTool {
	return &ImageTool{generator: generator, uploader: uploader}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt": {Type: schema.String, Required: true, Desc: "图片提示词"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "根据提示词生成一张儿童插画并上传，返回图片地址",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args.Prompt == "" {
		return "", fmt.Errorf("%w: prompt required", ErrInvalidArguments)
	}
	img, err := t.generator.Generate(ctx, args.Prompt)
	if err != nil {
		return "", err
	}
	url, err := t.uploader.Upload(ctx, img.Data, storage.UploadOptions{
		ContentType: img.ContentType,
		Folder:      toolImageFolder,
	})
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(ImageToolResp{URL: url, ContentType: img.ContentType})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
