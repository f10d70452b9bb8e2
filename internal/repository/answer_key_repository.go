package repository

import (
	"context"
	"errors"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"

	"gorm.io/gorm"
)

type AnswerKeyRepository struct {
	DB *gorm.DB
}

func NewAnswerKeyRepository(db *gorm.DB) *AnswerKeyRepository {
	return &AnswerKeyRepository{DB: db}
}

func preloadKeyQuestions(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Questions.Steps", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") })
}

// Create 题目与步骤随关联一起写入
func (r *AnswerKeyRepository) Create(ctx context.Context, key *model.AnswerKey) error {
	return r.DB.WithContext(ctx).Create(key).Error
}

func (r *AnswerKeyRepository) FindByID(ctx context.Context, id string) (*model.AnswerKey, error) {
	var key model.AnswerKey
	err := preloadKeyQuestions(r.DB.WithContext(ctx)).Where("id = ?", id).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAnswerKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *AnswerKeyRepository) List(ctx context.Context) ([]model.AnswerKey, error) {
	var keys []model.AnswerKey
	err := r.DB.WithContext(ctx).
		Preload("Questions").
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// Delete 不影响已使用该答案键的会话（方案在处理时已复制）
func (r *AnswerKeyRepository) Delete(ctx context.Context, id string) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var key model.AnswerKey
		if err := tx.Where("id = ?", id).First(&key).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrAnswerKeyNotFound
			}
			return err
		}

		questionIDs := tx.Model(&model.AnswerKeyQuestion{}).Select("id").Where("answer_key_id = ?", id)
		if err := tx.Where("answer_key_question_id IN (?)", questionIDs).Delete(&model.AnswerKeyStep{}).Error; err != nil {
			return err
		}
		if err := tx.Where("answer_key_id = ?", id).Delete(&model.AnswerKeyQuestion{}).Error; err != nil {
			return err
		}
		return tx.Delete(&key).Error
	})
}
