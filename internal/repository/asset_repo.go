package repository

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wisestory/internal/model"
)

// AssetRepo 故事资源存储
type AssetRepo struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// NewAssetRepo 创建资源仓库
func NewAssetRepo(db *gorm.DB, log logrus.FieldLogger) *AssetRepo {
	return &AssetRepo{db: db, log: log.WithField("repo", "AssetRepo")}
}

// UpsertBatch 批量写入，(story_id, sequence)已存在时覆盖url和prompt
func (r *AssetRepo) UpsertBatch(ctx context.Context, assets []*model.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "story_id"}, {Name: "sequence"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "url", "prompt", "updated_at"}),
		}).
		Create(&assets).Error
}

// ListByStory 按sequence升序返回资源
func (r *AssetRepo) ListByStory(ctx context.Context, storyID string) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := r.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("sequence ASC").
		Find(&assets).Error
	if err != nil {
		return nil, err
	}
	return assets, nil
}

// DeleteByStory 删除故事的全部资源记录
func (r *AssetRepo) DeleteByStory(ctx context.Context, storyID string) error {
	res := r.db.WithContext(ctx).Where("story_id = ?", storyID).Delete(&model.Asset{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		r.log.WithFields(logrus.Fields{"story_id": storyID, "count": res.RowsAffected}).Debug("story assets cleared")
	}
	return nil
}
