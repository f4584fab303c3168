package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSteps         = 20
	DefaultGuidanceScale = 7.5
	DefaultContentType   = "image/jpeg"
)

var ErrImageGeneration = errors.New("image generation failed")

// Request 文生图请求
type Request struct {
	Model         string
	Prompt        string
	Steps         int
	GuidanceScale float64
}

// Image 生成的图片
type Image struct {
	Data        []byte
	ContentType string
}

// Provider 文生图服务
type Provider interface {
	TextToImage(ctx context.Context, req Request) (*Image, error)
}

// ImageGenerationError 主备模型均失败
type ImageGenerationError struct {
	Prompt string
	Cause  error
}

func (e *ImageGenerationError) Error() string {
	return "failed to generate image with all available models"
}

func (e *ImageGenerationError) Unwrap() []error {
	return []error{ErrImageGeneration, e.Cause}
}

// Options 生成器参数
type Options struct {
	PrimaryModel  string
	BackupModel   string
	Steps         int
	GuidanceScale float64
}

// Generator 先用主模型生成，失败后改用备用模型，最多两次调用
type Generator struct {
	provider Provider
	opts     Options
	log      logrus.FieldLogger
}

// NewGenerator 创建图片生成器
func NewGenerator(provider Provider, opts Options, log logrus.FieldLogger) *Generator {
	if opts.Steps <= 0 {
		opts.Steps = DefaultSteps
	}
	if opts.GuidanceScale <= 0 {
		opts.GuidanceScale = DefaultGuidanceScale
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{provider: provider, opts: opts, log: log}
}

// Generate 生成一张图片
func (g *Generator) Generate(ctx context.Context, prompt string) (*Image, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrImageGeneration)
	}

	img, err := g.generateWith(ctx, g.opts.PrimaryModel, prompt)
	if err == nil {
		return img, nil
	}
	g.log.WithError(err).WithField("model", g.opts.PrimaryModel).Warn("primary image model failed, trying backup")

	img, backupErr := g.generateWith(ctx, g.opts.BackupModel, prompt)
	if backupErr == nil {
		return img, nil
	}
	g.log.WithError(backupErr).WithField("model", g.opts.BackupModel).Error("backup image model failed")

	return nil, &ImageGenerationError{Prompt: prompt, Cause: errors.Join(err, backupErr)}
}

func (g *Generator) generateWith(ctx context.Context, model, prompt string) (*Image, error) {
	img, err := g.provider.TextToImage(ctx, Request{
		Model:         model,
		Prompt:        prompt,
		Steps:         g.opts.Steps,
		GuidanceScale: g.opts.GuidanceScale,
	})
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("empty image returned")
	}
	if img.ContentType == "" {
		img.ContentType = DefaultContentType
	}
	return img, nil
}
