package repository

import (
	"context"
	"errors"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"

	"gorm.io/gorm"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

// SessionStats 仪表盘统计
type SessionStats struct {
	Total          int64                  `json:"totalPapersGraded"`
	Completed      int64                  `json:"completed"`
	Processing     int64                  `json:"processing"`
	UniqueSubjects int64                  `json:"uniqueSubjects"`
	Recent         []model.GradingSession `json:"recentSessions"`
}

func (r *SessionRepository) Create(ctx context.Context, session *model.GradingSession) error {
	return r.DB.WithContext(ctx).Create(session).Error
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*model.GradingSession, error) {
	var session model.GradingSession
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// PreloadDetail 题目按题号、步骤按顺序、图片按页码
func PreloadDetail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("Questions.Steps", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
		Preload("Questions.Result").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("page_number ASC") })
}

func (r *SessionRepository) FindDetail(ctx context.Context, id string) (*model.GradingSession, error) {
	var session model.GradingSession
	err := PreloadDetail(r.DB.WithContext(ctx)).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) List(ctx context.Context, page, limit int) ([]model.GradingSession, int64, error) {
	var sessions []model.GradingSession
	var total int64

	query := r.DB.WithContext(ctx).Model(&model.GradingSession{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

func (r *SessionRepository) ListByStatus(ctx context.Context, statuses ...model.SessionStatus) ([]model.GradingSession, error) {
	var sessions []model.GradingSession
	err := r.DB.WithContext(ctx).Where("status IN ?", statuses).Order("created_at ASC").Find(&sessions).Error
	return sessions, err
}

func (r *SessionRepository) FindImage(ctx context.Context, sessionID string, page int) (*model.AnswerSheetImage, error) {
	var img model.AnswerSheetImage
	err := r.DB.WithContext(ctx).
		Where("session_id = ? AND page_number = ?", sessionID, page).
		First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Delete 级联删除会话及其题目、步骤、结果、图片，返回被删除的图片记录供清理存储
func (r *SessionRepository) Delete(ctx context.Context, id string) (*model.GradingSession, []model.AnswerSheetImage, error) {
	var session model.GradingSession
	var images []model.AnswerSheetImage

	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return util.ErrSessionNotFound
			}
			return err
		}

		if err := tx.Where("session_id = ?", id).Find(&images).Error; err != nil {
			return err
		}

		questionIDs := tx.Model(&model.Question{}).Select("id").Where("session_id = ?", id)
		if err := tx.Where("question_id IN (?)", questionIDs).Delete(&model.QuestionStep{}).Error; err != nil {
			return err
		}
		if err := tx.Where("question_id IN (?)", questionIDs).Delete(&model.GradingResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&model.Question{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&model.AnswerSheetImage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&session).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &session, images, nil
}

func (r *SessionRepository) Stats(ctx context.Context, recent int) (*SessionStats, error) {
	db := r.DB.WithContext(ctx)
	stats := &SessionStats{}

	if err := db.Model(&model.GradingSession{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.GradingSession{}).
		Where("status = ?", model.StatusCompleted).
		Count(&stats.Completed).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.GradingSession{}).
		Where("status IN ?", []model.SessionStatus{model.StatusProcessing, model.StatusPending}).
		Count(&stats.Processing).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.GradingSession{}).
		Distinct("subject").
		Count(&stats.UniqueSubjects).Error; err != nil {
		return nil, err
	}
	if err := db.Order("created_at DESC").Limit(recent).Find(&stats.Recent).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
