package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"wisestory/internal/model"
)

// StoryRepo 故事记录存储
type StoryRepo struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewStoryRepo 创建故事仓库
func NewStoryRepo(db *gorm.DB, log logrus.FieldLogger) *StoryRepo {
	return &StoryRepo{db: db, log: log.WithField("repo", "StoryRepo")}
}

func (r *StoryRepo) Create(ctx context.Context, story *model.Story) error {
	return r.db.WithContext(ctx).Create(story).Error
}

func (r *StoryRepo) GetByID(ctx context.Context, id string) (*model.Story, error) {
	var story model.Story
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&story).Error; err != nil {
		return nil, notFound(err)
	}
	return &story, nil
}

// ListByOwner 按创建时间倒序列出用户的故事
func (r *StoryRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Story, error) {
	var stories []*model.Story
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&stories).Error
	if err != nil {
		return nil, err
	}
	return stories, nil
}

// TransitionStatus 仅当当前状态属于from时更新为to，返回是否更新成功
func (r *StoryRepo) TransitionStatus(ctx context.Context, id string, from []model.Status, to model.Status, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	res := r.db.WithContext(ctx).
		Model(&model.Story{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		r.log.WithFields(logrus.Fields{"story_id": id, "to": to}).Debug("status transition rejected")
		return false, nil
	}
	return true, nil
}

// FailStale 将updated_at早于cutoff且仍在生成中的故事置为error，ids为空时处理全部故事
func (r *StoryRepo) FailStale(ctx context.Context, cutoff time.Time, ids ...string) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.Story{}).
		Where("status IN ? AND updated_at < ?", model.Sources(model.EventFail), cutoff)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]any{"status": model.Target(model.EventFail), "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *StoryRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("story_id = ?", id).Delete(&model.Asset{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.Story{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
