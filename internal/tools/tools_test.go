package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisestory/internal/imagegen"
	"wisestory/internal/model"
	"wisestory/internal/service"
	"wisestory/internal/storage"
)

type stubStoryGenerator struct {
	got service.StoryContext
	err error
}

func (s *stubStoryGenerator) Generate(ctx context.Context, sc service.StoryContext) (*model.StoryContent, error) {
	s.got = sc
	if s.err != nil {
		return nil, s.err
	}
	return &model.StoryContent{
		Structure:    &model.StoryStructure{Introduction: "Once"},
		Scenes:       []model.Scene{},
		ImagePrompts: []string{"a moon"},
	}, nil
}

type stubImageGenerator struct{}

func (stubImageGenerator) Generate(ctx context.Context, prompt string) (*imagegen.Image, error) {
	return &imagegen.Image{Data: []byte(prompt), ContentType: "image/png"}, nil
}

type stubUploader struct {
	opts storage.UploadOptions
}

func (s *stubUploader) Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (string, error) {
	s.opts = opts
	return "https://cdn.test/tool-images/x.png", nil
}

func TestStoryTool(t *testing.T) {
	ctx := context.Background()

	t.Run("默认年龄段和语言", func(t *testing.T) {
		gen := &stubStoryGenerator{}
		out, err := NewStoryTool(gen).InvokableRun(ctx, `{"title":"Moon Trip"}`)

		require.NoError(t, err)
		assert.Equal(t, model.AgeGroup5To8, gen.got.AgeGroup)
		assert.Equal(t, model.LanguageEnglish, gen.got.Language)
		assert.Contains(t, out, `"imagePrompts":["a moon"]`)
	})

	t.Run("缺少标题", func(t *testing.T) {
		_, err := NewStoryTool(&stubStoryGenerator{}).InvokableRun(ctx, `{}`)
		require.ErrorIs(t, err, ErrInvalidArguments)
		assert.EqualError(t, err, "invalid tool arguments: title required")
	})

	t.Run("参数不是JSON", func(t *testing.T) {
		_, err := NewStoryTool(&stubStoryGenerator{}).InvokableRun(ctx, `{"title":`)
		require.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("生成失败", func(t *testing.T) {
		_, err := NewStoryTool(&stubStoryGenerator{err: errors.New("quota")}).InvokableRun(ctx, `{"title":"x"}`)
		require.Error(t, err)
	})

	t.Run("工具信息", func(t *testing.T) {
		info, err := NewStoryTool(&stubStoryGenerator{}).Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, "story_generate", info.Name)
	})
}

func TestImageTool(t *testing.T) {
	ctx := context.Background()
	up := &stubUploader{}

	out, err := NewImageTool(stubImageGenerator{}, up).InvokableRun(ctx, `{"prompt":"a fox"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://cdn.test/tool-images/x.png","content_type":"image/png"}`, out)
	assert.Equal(t, "tool-images", up.opts.Folder)
	assert.Empty(t, up.opts.Filename)

	_, err = NewImageTool(stubImageGenerator{}, up).InvokableRun(ctx, `{}`)
	require.EqualError(t, err, "prompt required")
}
