package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"wisestory/internal/imagegen"
	"wisestory/internal/middleware"
	"wisestory/internal/model"
	"wisestory/internal/service"
	"wisestory/internal/tools"
)

// StoryService 故事相关业务操作
type StoryService interface {
	CreateStory(ctx context.Context, in service.CreateStoryInput) (*model.Story, error)
	GetStory(ctx context.Context, id string) (*service.StoryDetail, error)
	ListStories(ctx context.Context, userID string) ([]*model.Story, error)
	DeleteStory(ctx context.Context, id string) error
	GenerateContent(ctx context.Context, id string) (*model.Story, error)
	GenerateAssets(ctx context.Context, id string) (*service.StoryDetail, error)
	RetryImage(ctx context.Context, id string, index int, prompt string) (*service.ImageResult, error)
}

// ImageGenerator 单张图片生成
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Image, error)
}

// Handler HTTP接口
type Handler struct {
	stories StoryService
	images  ImageGenerator
	tools   map[string]einotool.InvokableTool
	log     logrus.FieldLogger
}

// New 创建HTTP处理器
func New(stories StoryService, images ImageGenerator, log logrus.FieldLogger) *Handler {
	return &Handler{
		stories: stories,
		images:  images,
		tools:   map[string]einotool.InvokableTool{},
		log:     log.WithField("component", "handler"),
	}
}

// RegisterTool 以/tools/{path}暴露eino工具
func (h *Handler) RegisterTool(path string, tool einotool.InvokableTool) {
	h.tools[path] = tool
}

// Register 注册全部路由
func (h *Handler) Register(r *gin.Engine, auth gin.HandlerFunc, gatherer prometheus.Gatherer) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", auth)
	api.POST("/stories", h.createStory)
	api.GET("/stories", h.listStories)
	api.GET("/stories/:id", h.getStory)
	api.DELETE("/stories/:id", h.deleteStory)
	api.POST("/stories/:id/generate", h.generateContent)
	api.POST("/stories/:id/assets", h.generateAssets)
	api.POST("/stories/:id/images/:index/retry", h.retryImage)
	api.POST("/generate/image", h.generateImage)

	tools := r.Group("/tools", auth)
	for path, tool := range h.tools {
		tools.POST("/"+path, h.invokeTool(tool))
	}
}

type createStoryRequest struct {
	Title       string `json:"title" binding:"required,min=3,max=100"`
	Description string `json:"description" binding:"omitempty,max=500"`
	AgeGroup    string `json:"ageGroup" binding:"required,oneof=3-5 5-8 8-12"`
	Language    string `json:"language" binding:"required,oneof=en es fr"`
}

// createStory 创建草稿故事
func (h *Handler) createStory(c *gin.Context) {
	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	story, err := h.stories.CreateStory(c.Request.Context(), service.CreateStoryInput{
		Title:       req.Title,
		Description: req.Description,
		AgeGroup:    model.AgeGroup(req.AgeGroup),
		Language:    model.Language(req.Language),
		UserID:      middleware.UserID(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, story)
}

// listStories 当前用户的故事列表
func (h *Handler) listStories(c *gin.Context) {
	stories, err := h.stories.ListStories(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stories": stories})
}

func (h *Handler) getStory(c *gin.Context) {
	detail, ok := h.ownedStory(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) deleteStory(c *gin.Context) {
	if _, ok := h.ownedStory(c); !ok {
		return
	}
	if err := h.stories.DeleteStory(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// generateContent 生成故事文本
func (h *Handler) generateContent(c *gin.Context) {
	if _, ok := h.ownedStory(c); !ok {
		return
	}
	story, err := h.stories.GenerateContent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, story)
}

// generateAssets 生成全部插图
func (h *Handler) generateAssets(c *gin.Context) {
	if _, ok := h.ownedStory(c); !ok {
		return
	}
	detail, err := h.stories.GenerateAssets(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type retryImageRequest struct {
	Prompt string `json:"prompt" binding:"omitempty,max=1000"`
}

// retryImage 重新生成单张插图
func (h *Handler) retryImage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: index must be an integer"})
		return
	}
	var req retryImageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}
	}
	if _, ok := h.ownedStory(c); !ok {
		return
	}
	res, err := h.stories.RetryImage(c.Request.Context(), c.Param("id"), index, req.Prompt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type generateImageRequest struct {
	Prompt string `json:"prompt" binding:"required,min=1,max=1000"`
}

// generateImage 生成单张图片并以data URL返回
func (h *Handler) generateImage(c *gin.Context) {
	var req generateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	img, err := h.images.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.log.WithError(err).Error("image generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"dataUrl": dataURL},
	})
}

// invokeTool 直接读取请求体作为工具参数
func (h *Handler) invokeTool(tool einotool.InvokableTool) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: empty body"})
			return
		}
		result, err := tool.InvokableRun(c.Request.Context(), string(body))
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}

// ownedStory 读取故事并校验归属，不存在和不属于当前用户都返回404
func (h *Handler) ownedStory(c *gin.Context) (*service.StoryDetail, bool) {
	detail, err := h.stories.GetStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if detail.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Story not found"})
		return nil, false
	}
	return detail, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var assetErr *service.AssetGenerationError
	switch {
	case errors.Is(err, tools.ErrInvalidArguments):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Story not found"})
	case errors.Is(err, service.ErrGenerationInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoPrompts), errors.Is(err, service.ErrPromptIndex):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &assetErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "failures": assetErr.Failures})
	case errors.Is(err, service.ErrGeneration), errors.Is(err, service.ErrImageGeneration), errors.Is(err, service.ErrStorage):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("unexpected error")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
