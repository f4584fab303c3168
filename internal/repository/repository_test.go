package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wisestory/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库每个连接独立
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	return db
}

func seedStory(t *testing.T, repo *StoryRepo, userID string) *model.Story {
	t.Helper()
	story := &model.Story{
		Title:    "The Brave Little Turtle",
		AgeGroup: model.AgeGroup3To5,
		Language: model.LanguageEnglish,
		UserID:   userID,
	}
	require.NoError(t, repo.Create(context.Background(), story))
	return story
}

func TestStoryRepo(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	t.Run("创建与读取", func(t *testing.T) {
		repo := NewStoryRepo(newTestDB(t), log)
		story := seedStory(t, repo, "user-1")

		got, err := repo.GetByID(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDraft, got.Status)
		assert.JSONEq(t, `{"structure":null,"scenes":[],"imagePrompts":[]}`, string(got.Content))
	})

	t.Run("不存在", func(t *testing.T) {
		repo := NewStoryRepo(newTestDB(t), log)
		_, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("按用户列出", func(t *testing.T) {
		repo := NewStoryRepo(newTestDB(t), log)
		seedStory(t, repo, "user-1")
		seedStory(t, repo, "user-1")
		seedStory(t, repo, "user-2")

		stories, err := repo.ListByOwner(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, stories, 2)
	})

	t.Run("条件状态迁移", func(t *testing.T) {
		repo := NewStoryRepo(newTestDB(t), log)
		story := seedStory(t, repo, "user-1")

		ok, err := repo.TransitionStatus(ctx, story.ID, model.Sources(model.EventStartContent), model.StatusProcessingContent, nil)
		require.NoError(t, err)
		assert.True(t, ok)

		// 已在生成中，第二次迁移被拒绝
		ok, err = repo.TransitionStatus(ctx, story.ID, model.Sources(model.EventStartContent), model.StatusProcessingContent, nil)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.TransitionStatus(ctx, story.ID, model.Sources(model.EventContentGenerated), model.StatusGeneratedContent,
			map[string]any{"content": []byte(`{"structure":{},"scenes":[],"imagePrompts":["p"]}`)})
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, story.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusGeneratedContent, got.Status)
		assert.Equal(t, []string{"p"}, got.ImagePrompts())
	})

	t.Run("回收超时的生成", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewStoryRepo(db, log)
		stale := seedStory(t, repo, "user-1")
		other := seedStory(t, repo, "user-1")
		fresh := seedStory(t, repo, "user-1")
		for _, s := range []*model.Story{stale, other, fresh} {
			_, err := repo.TransitionStatus(ctx, s.ID, model.Sources(model.EventStartContent), model.StatusProcessingContent, nil)
			require.NoError(t, err)
		}
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, db.Model(&model.Story{}).Where("id IN ?", []string{stale.ID, other.ID}).
			UpdateColumn("updated_at", old).Error)
		cutoff := time.Now().Add(-time.Hour)

		// 只处理指定的故事
		n, err := repo.FailStale(ctx, cutoff, stale.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := repo.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusError, got.Status)
		got, err = repo.GetByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessingContent, got.Status)

		n, err = repo.FailStale(ctx, cutoff)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		got, err = repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessingContent, got.Status)
	})

	t.Run("删除", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewStoryRepo(db, log)
		assets := NewAssetRepo(db, log)
		story := seedStory(t, repo, "user-1")
		require.NoError(t, assets.UpsertBatch(ctx, []*model.Asset{{StoryID: story.ID, URL: "u", Sequence: 0}}))

		require.NoError(t, repo.Delete(ctx, story.ID))
		_, err := repo.GetByID(ctx, story.ID)
		require.ErrorIs(t, err, ErrNotFound)
		list, err := assets.ListByStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestAssetRepo(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	t.Run("按序号排序", func(t *testing.T) {
		db := newTestDB(t)
		story := seedStory(t, NewStoryRepo(db, log), "user-1")
		repo := NewAssetRepo(db, log)

		require.NoError(t, repo.UpsertBatch(ctx, []*model.Asset{
			{StoryID: story.ID, URL: "u2", Prompt: "p2", Sequence: 2},
			{StoryID: story.ID, URL: "u0", Prompt: "p0", Sequence: 0},
		}))

		list, err := repo.ListByStory(ctx, story.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 0, list[0].Sequence)
		assert.Equal(t, 2, list[1].Sequence)
		assert.Equal(t, model.AssetTypeImage, list[0].Type)
	})

	t.Run("重复序号覆盖", func(t *testing.T) {
		db := newTestDB(t)
		story := seedStory(t, NewStoryRepo(db, log), "user-1")
		repo := NewAssetRepo(db, log)

		require.NoError(t, repo.UpsertBatch(ctx, []*model.Asset{{StoryID: story.ID, URL: "old", Sequence: 1}}))
		require.NoError(t, repo.UpsertBatch(ctx, []*model.Asset{{StoryID: story.ID, URL: "new", Prompt: "retry", Sequence: 1}}))

		list, err := repo.ListByStory(ctx, story.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "new", list[0].URL)
		assert.Equal(t, "retry", list[0].Prompt)
	})

	t.Run("删除故事的全部资源", func(t *testing.T) {
		db := newTestDB(t)
		stories := NewStoryRepo(db, log)
		story := seedStory(t, stories, "user-1")
		other := seedStory(t, stories, "user-1")
		repo := NewAssetRepo(db, log)
		require.NoError(t, repo.UpsertBatch(ctx, []*model.Asset{
			{StoryID: story.ID, URL: "u0", Sequence: 0},
			{StoryID: story.ID, URL: "u1", Sequence: 1},
			{StoryID: other.ID, URL: "x0", Sequence: 0},
		}))

		require.NoError(t, repo.DeleteByStory(ctx, story.ID))
		list, err := repo.ListByStory(ctx, story.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
		list, err = repo.ListByStory(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("空批次", func(t *testing.T) {
		repo := NewAssetRepo(newTestDB(t), log)
		require.NoError(t, repo.UpsertBatch(ctx, nil))
	})
}
