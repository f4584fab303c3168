package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wisestory/internal/imagegen"
	"wisestory/internal/model"
	"wisestory/internal/storage"
)

// ChunkSize 每批并发生成的图片数
const ChunkSize = 2

// DefaultLease 生成中的故事超过该时长未更新视为中断
const DefaultLease = time.Hour

// StoryStore 故事记录存储
type StoryStore interface {
	Create(ctx context.Context, story *model.Story) error
	GetByID(ctx context.Context, id string) (*model.Story, error)
	ListByOwner(ctx context.Context, userID string) ([]*model.Story, error)
	TransitionStatus(ctx context.Context, id string, from []model.Status, to model.Status, updates map[string]any) (bool, error)
	FailStale(ctx context.Context, cutoff time.Time, ids ...string) (int64, error)
	Delete(ctx context.Context, id string) error
}

// AssetStore 资源记录存储
type AssetStore interface {
	UpsertBatch(ctx context.Context, assets []*model.Asset) error
	ListByStory(ctx context.Context, storyID string) ([]*model.Asset, error)
	DeleteByStory(ctx context.Context, storyID string) error
}

// StoryContentGenerator 生成故事文本
type StoryContentGenerator interface {
	Generate(ctx context.Context, sc StoryContext) (*model.StoryContent, error)
}

// ImageGenerator 生成单张图片
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Image, error)
}

// ObjectStore 对象存储
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, opts storage.UploadOptions) (string, error)
	Delete(ctx context.Context, key string) error
	KeyForURL(url string) (string, bool)
}

// AssetDispatcher 派发资源生成任务，调用方不等待结果
type AssetDispatcher interface {
	Dispatch(ctx context.Context, storyID string) error
}

// ImageResult 单张图片生成结果
type ImageResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StoryDetail 故事及其按序排列的资源
type StoryDetail struct {
	*model.Story
	Assets []*model.Asset `json:"assets"`
}

// CreateStoryInput 新建故事参数
type CreateStoryInput struct {
	Title       string
	Description string
	AgeGroup    model.AgeGroup
	Language    model.Language
	UserID      string
}

// StoryPipeline 故事文本与插图生成流水线
type StoryPipeline struct {
	stories    StoryStore
	assets     AssetStore
	content    StoryContentGenerator
	images     ImageGenerator
	objects    ObjectStore
	dispatcher AssetDispatcher
	metrics    *Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	lease      time.Duration
}

// NewStoryPipeline 创建生成流水线
func NewStoryPipeline(stories StoryStore, assets AssetStore, content StoryContentGenerator, images ImageGenerator, objects ObjectStore, metrics *Metrics, log logrus.FieldLogger) *StoryPipeline {
	return &StoryPipeline{
		stories: stories,
		assets:  assets,
		content: content,
		images:  images,
		objects: objects,
		metrics: metrics,
		log:     log.WithField("component", "StoryPipeline"),
		now:     time.Now,
		lease:   DefaultLease,
	}
}

// SetDispatcher 设置资源生成任务派发器
func (p *StoryPipeline) SetDispatcher(d AssetDispatcher) {
	p.dispatcher = d
}

// SetLease 设置生成租期，<=0时不回收中断的生成
func (p *StoryPipeline) SetLease(d time.Duration) {
	p.lease = d
}

// RecoverStale 把超过租期仍处于生成中的故事置为error，启动时调用
func (p *StoryPipeline) RecoverStale(ctx context.Context) (int64, error) {
	if p.lease <= 0 {
		return 0, nil
	}
	n, err := p.stories.FailStale(ctx, p.now().Add(-p.lease))
	if err != nil {
		return 0, fmt.Errorf("recover stale stories: %w", err)
	}
	if n > 0 {
		p.log.WithField("count", n).Warn("stale generations marked as error")
	}
	return n, nil
}

// reclaimStale 单个故事的租期已过时先置为error，使其可以重新生成
func (p *StoryPipeline) reclaimStale(ctx context.Context, story *model.Story) error {
	if p.lease <= 0 || !story.Status.IsProcessing() {
		return nil
	}
	cutoff := p.now().Add(-p.lease)
	if story.UpdatedAt.After(cutoff) {
		return nil
	}
	n, err := p.stories.FailStale(ctx, cutoff, story.ID)
	if err != nil {
		return fmt.Errorf("reclaim stale story: %w", err)
	}
	if n > 0 {
		p.log.WithFields(logrus.Fields{"story_id": story.ID, "status": story.Status}).Warn("stale generation reclaimed")
		story.Status = model.Target(model.EventFail)
	}
	return nil
}

// CreateStory 新建草稿故事
func (p *StoryPipeline) CreateStory(ctx context.Context, in CreateStoryInput) (*model.Story, error) {
	story := &model.Story{
		Title:    strings.TrimSpace(in.Title),
		AgeGroup: in.AgeGroup,
		Language: in.Language,
		UserID:   in.UserID,
		Status:   model.StatusDraft,
	}
	if d := strings.TrimSpace(in.Description); d != "" {
		story.Description = &d
	}
	if err := p.stories.Create(ctx, story); err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	p.log.WithField("story_id", story.ID).Info("story created")
	return story, nil
}

// GetStory 读取故事及资源
func (p *StoryPipeline) GetStory(ctx context.Context, id string) (*StoryDetail, error) {
	story, err := p.stories.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	assets, err := p.assets.ListByStory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return &StoryDetail{Story: story, Assets: assets}, nil
}

// ListStories 列出用户的故事
func (p *StoryPipeline) ListStories(ctx context.Context, userID string) ([]*model.Story, error) {
	return p.stories.ListByOwner(ctx, userID)
}

// DeleteStory 删除故事、资源记录及已上传的图片
func (p *StoryPipeline) DeleteStory(ctx context.Context, id string) error {
	story, err := p.stories.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := p.reclaimStale(ctx, story); err != nil {
		return err
	}
	if story.Status.IsProcessing() {
		return ErrGenerationInProgress
	}
	assets, err := p.assets.ListByStory(ctx, id)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if err := p.stories.Delete(ctx, id); err != nil {
		return err
	}
	p.deleteObjects(ctx, id, assets)
	p.log.WithField("story_id", id).Info("story deleted")
	return nil
}

// clearAssets 删除故事的资源记录，返回被删除的记录
func (p *StoryPipeline) clearAssets(ctx context.Context, storyID string) ([]*model.Asset, error) {
	assets, err := p.assets.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}
	if err := p.assets.DeleteByStory(ctx, storyID); err != nil {
		return nil, err
	}
	return assets, nil
}

// deleteObjects 尽力删除已上传的图片，失败只记录日志
func (p *StoryPipeline) deleteObjects(ctx context.Context, storyID string, assets []*model.Asset) {
	log := p.log.WithField("story_id", storyID)
	for _, a := range assets {
		key, ok := p.objects.KeyForURL(a.URL)
		if !ok {
			continue
		}
		if err := p.objects.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to delete story image")
		}
	}
}

// GenerateContent 生成故事文本，成功后派发插图生成
func (p *StoryPipeline) GenerateContent(ctx context.Context, storyID string) (*model.Story, error) {
	log := p.log.WithField("story_id", storyID)

	story, err := p.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if err := p.reclaimStale(ctx, story); err != nil {
		return nil, err
	}

	ok, err := p.stories.TransitionStatus(ctx, storyID,
		model.Sources(model.EventStartContent), model.Target(model.EventStartContent), nil)
	if err != nil {
		return nil, fmt.Errorf("mark processing content: %w", err)
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}

	sc := StoryContext{
		Title:    story.Title,
		AgeGroup: story.AgeGroup,
		Language: story.Language,
	}
	if story.Description != nil {
		sc.Description = *story.Description
	}

	content, err := p.content.Generate(ctx, sc)
	p.metrics.contentGenerations.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		p.failContent(ctx, storyID, err)
		return nil, err
	}

	encoded, err := model.EncodeContent(content)
	if err != nil {
		p.failContent(ctx, storyID, err)
		return nil, err
	}
	// 旧插图对应旧的提示词，新内容落库前清掉
	stale, err := p.clearAssets(ctx, storyID)
	if err != nil {
		err = fmt.Errorf("clear previous assets: %w", err)
		p.failContent(ctx, storyID, err)
		return nil, err
	}
	ok, err = p.stories.TransitionStatus(ctx, storyID,
		model.Sources(model.EventContentGenerated), model.Target(model.EventContentGenerated),
		map[string]any{"content": encoded})
	if err != nil {
		err = fmt.Errorf("save story content: %w", err)
		p.failContent(ctx, storyID, err)
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("save story content: %w", ErrGenerationInProgress)
	}
	log.Info("story content saved")
	p.deleteObjects(ctx, storyID, stale)

	p.dispatchAssets(ctx, storyID)

	return p.stories.GetByID(ctx, storyID)
}

func (p *StoryPipeline) dispatchAssets(ctx context.Context, storyID string) {
	log := p.log.WithField("story_id", storyID)
	if p.dispatcher == nil {
		log.Warn("no asset dispatcher configured, skipping asset generation")
		return
	}
	if err := p.dispatcher.Dispatch(context.WithoutCancel(ctx), storyID); err != nil {
		log.WithError(err).Error("failed to dispatch asset generation")
	}
}

func (p *StoryPipeline) failContent(ctx context.Context, storyID string, cause error) {
	updates := map[string]any{}
	if failure, err := model.EncodeContent(model.ContentFailure{
		Error:     cause.Error(),
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}); err == nil {
		updates["content"] = failure
	}
	if _, err := p.stories.TransitionStatus(context.WithoutCancel(ctx), storyID,
		model.Sources(model.EventFail), model.Target(model.EventFail), updates); err != nil {
		p.log.WithError(err).WithField("story_id", storyID).Error("failed to record content failure")
	}
	p.log.WithError(cause).WithField("story_id", storyID).Error("story content generation failed")
}

// GenerateAssets 按每批ChunkSize张生成全部插图，单张失败不影响其它图片
func (p *StoryPipeline) GenerateAssets(ctx context.Context, storyID string) (*StoryDetail, error) {
	log := p.log.WithField("story_id", storyID)

	story, err := p.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	content, err := story.ParseContent()
	if err != nil {
		return nil, err
	}
	prompts := content.ImagePrompts
	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}
	if err := p.reclaimStale(ctx, story); err != nil {
		return nil, err
	}

	ok, err := p.stories.TransitionStatus(ctx, storyID,
		model.Sources(model.EventStartAssets), model.Target(model.EventStartAssets), nil)
	if err != nil {
		return nil, fmt.Errorf("mark processing assets: %w", err)
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}

	started := p.now()
	finalStatus := model.StatusError
	defer func() {
		p.metrics.assetRunDuration.WithLabelValues(string(finalStatus)).Observe(p.now().Sub(started).Seconds())
	}()

	// 非预期错误统一置为error
	forceError := func(cause error) {
		if _, tErr := p.stories.TransitionStatus(context.WithoutCancel(ctx), storyID,
			model.Sources(model.EventFail), model.Target(model.EventFail), nil); tErr != nil {
			log.WithError(tErr).Error("failed to record asset failure")
		}
		log.WithError(cause).Error("asset generation aborted")
	}

	generated := make([]*model.Asset, len(prompts))
	var (
		mu       sync.Mutex
		failures []string
	)
	for start := 0; start < len(prompts); start += ChunkSize {
		end := min(start+ChunkSize, len(prompts))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				asset, err := p.generateOne(ctx, storyID, i, prompts[i])
				if err != nil {
					mu.Lock()
					failures = append(failures, fmt.Sprintf("Image %d: %v", i+1, err))
					mu.Unlock()
					return nil
				}
				generated[i] = asset
				return nil
			})
		}
		_ = g.Wait()
		log.WithFields(logrus.Fields{"from": start, "to": end}).Debug("image chunk settled")

		// 刷新updated_at续租
		if end < len(prompts) {
			if _, err := p.stories.TransitionStatus(ctx, storyID,
				[]model.Status{model.StatusProcessingAssets}, model.StatusProcessingAssets, nil); err != nil {
				log.WithError(err).Warn("failed to renew generation lease")
			}
		}
	}

	batch := make([]*model.Asset, 0, len(prompts))
	for _, a := range generated {
		if a != nil {
			batch = append(batch, a)
		}
	}
	if len(batch) > 0 {
		if err := p.assets.UpsertBatch(ctx, batch); err != nil {
			err = fmt.Errorf("save assets: %w", err)
			forceError(err)
			return nil, err
		}
	}

	event := model.EventAssetsGenerated
	if len(failures) > 0 {
		event = model.EventAssetsFailed
	}
	ok, err = p.stories.TransitionStatus(ctx, storyID, model.Sources(event), model.Target(event), nil)
	if err != nil {
		err = fmt.Errorf("update story status: %w", err)
		forceError(err)
		return nil, err
	}
	if !ok {
		err = fmt.Errorf("update story status: %w", model.ErrInvalidTransition)
		forceError(err)
		return nil, err
	}
	finalStatus = model.Target(event)

	log.WithFields(logrus.Fields{
		"generated": len(batch),
		"failed":    len(failures),
		"status":    finalStatus,
	}).Info("asset generation finished")

	if len(failures) > 0 {
		return nil, &AssetGenerationError{Failures: failures}
	}
	return p.GetStory(ctx, storyID)
}

// RetryImage 重新生成单张插图，不改变故事状态
func (p *StoryPipeline) RetryImage(ctx context.Context, storyID string, index int, prompt string) (*ImageResult, error) {
	story, err := p.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	prompts := story.ImagePrompts()
	if index < 0 || index >= len(prompts) {
		return nil, ErrPromptIndex
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = prompts[index]
	}

	result := &ImageResult{Index: index}
	asset, err := p.generateOne(ctx, storyID, index, prompt)
	if err == nil {
		err = p.assets.UpsertBatch(ctx, []*model.Asset{asset})
	}
	if err != nil {
		result.Error = err.Error()
		p.log.WithError(err).WithFields(logrus.Fields{"story_id": storyID, "index": index}).Warn("image retry failed")
		return result, nil
	}
	result.Success = true
	result.URL = asset.URL
	return result, nil
}

func (p *StoryPipeline) generateOne(ctx context.Context, storyID string, index int, prompt string) (*model.Asset, error) {
	p.metrics.imagesInFlight.Inc()
	defer p.metrics.imagesInFlight.Dec()

	img, err := p.images.Generate(ctx, prompt)
	p.metrics.imageGenerations.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	ext := storage.ExtensionFor(img.ContentType)
	url, err := p.objects.Upload(ctx, img.Data, storage.UploadOptions{
		ContentType: img.ContentType,
		Folder:      "story-images/" + storyID,
		Filename:    fmt.Sprintf("image-%d.%s", index, ext),
	})
	if err != nil {
		return nil, err
	}
	return &model.Asset{
		StoryID:  storyID,
		Type:     model.AssetTypeImage,
		URL:      url,
		Prompt:   prompt,
		Sequence: index,
	}, nil
}
