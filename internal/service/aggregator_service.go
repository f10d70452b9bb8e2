package service

import (
	"context"
	"errors"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/database"
	"gradeglide_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkUpdate 人工改分；StepID 可为步骤 id 或 step_key，ObtainedMarks 为 nil 表示清空
type MarkUpdate struct {
	QuestionID    string   `json:"question_id" binding:"required"`
	StepID        *string  `json:"step_id"`
	ObtainedMarks *float64 `json:"obtained_marks"`
}

// AggregatorService 会话总分汇总与状态机，状态只能经由这里写入
type AggregatorService struct {
	DB *gorm.DB
}

func NewAggregatorService(db *gorm.DB) *AggregatorService {
	return &AggregatorService{DB: db}
}

// lockSession 支持行锁的方言下 SELECT ... FOR UPDATE；SQLite 本身串行写
func lockSession(tx *gorm.DB, id string) (*model.GradingSession, error) {
	var session model.GradingSession
	q := tx
	if database.SupportsRowLocking(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ApplyMarkUpdate 单事务内改分并重算题目与会话得分，返回新的会话总分和题目
func (s *AggregatorService) ApplyMarkUpdate(ctx context.Context, sessionID string, upd MarkUpdate) (float64, *model.Question, error) {
	if upd.ObtainedMarks != nil && *upd.ObtainedMarks < 0 {
		return 0, nil, util.ErrInvalidMarks
	}

	var total float64
	var question model.Question

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if session.Status == model.StatusCompleted {
			return util.ErrSessionFinalised
		}

		err = tx.
			Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC") }).
			Preload("Result").
			Where("id = ? AND session_id = ?", upd.QuestionID, sessionID).
			First(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrQuestionNotFound
		}
		if err != nil {
			return err
		}

		if question.Result == nil {
			question.Result = &model.GradingResult{
				QuestionID: question.ID,
				Confidence: model.ConfidenceLow,
			}
		}

		if upd.StepID != nil {
			step := question.StepByRef(*upd.StepID)
			if step == nil {
				return util.ErrStepNotFound
			}
			if upd.ObtainedMarks != nil && *upd.ObtainedMarks > step.MaxMarks {
				return fmt.Errorf("%w: step %s allows at most %s", util.ErrInvalidMarks, step.StepKey, util.FormatMarks(&step.MaxMarks))
			}

			step.ObtainedMarks = upd.ObtainedMarks
			step.AIStatus = stepStatusFor(step.ObtainedMarks, step.MaxMarks)
			step.Overridden = true
			if err := tx.Model(step).Select("obtained_marks", "ai_status", "overridden").Updates(step).Error; err != nil {
				return err
			}

			var sum float64
			for _, st := range question.Steps {
				if st.ObtainedMarks != nil {
					sum += *st.ObtainedMarks
				}
			}
			question.Result.ObtainedMarks = &sum
		} else {
			if upd.ObtainedMarks != nil && *upd.ObtainedMarks > question.MaxMarks {
				return fmt.Errorf("%w: question %d allows at most %s", util.ErrInvalidMarks, question.Number, util.FormatMarks(&question.MaxMarks))
			}
			question.Result.ObtainedMarks = upd.ObtainedMarks
		}

		question.Result.Overridden = true
		if err := tx.Save(question.Result).Error; err != nil {
			return err
		}

		total, err = recomputeSessionTotal(tx, sessionID)
		return err
	})
	if err != nil {
		return 0, nil, err
	}

	logger.Log.Info("Marks updated",
		zap.String("session_id", sessionID),
		zap.String("question_id", upd.QuestionID),
		zap.Float64("session_total", total),
	)
	return total, &question, nil
}

// stepStatusFor 满分为 correct，否则 incorrect；空分按 0 计
func stepStatusFor(obtained *float64, max float64) model.StepStatus {
	var v float64
	if obtained != nil {
		v = *obtained
	}
	if v >= max {
		return model.StepCorrect
	}
	return model.StepIncorrect
}

// recomputeSessionTotal 会话得分 = 非空结果得分之和
func recomputeSessionTotal(tx *gorm.DB, sessionID string) (float64, error) {
	var total float64
	err := tx.Model(&model.GradingResult{}).
		Joins("JOIN questions ON questions.id = grading_results.question_id").
		Where("questions.session_id = ? AND grading_results.obtained_marks IS NOT NULL", sessionID).
		Select("COALESCE(SUM(grading_results.obtained_marks), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if err := tx.Model(&model.GradingSession{}).
		Where("id = ?", sessionID).
		Update("obtained_marks", total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// RecomputeSessionTotal 事务外的重算入口
func (s *AggregatorService) RecomputeSessionTotal(ctx context.Context, sessionID string) (float64, error) {
	var total float64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, sessionID); err != nil {
			return err
		}
		var err error
		total, err = recomputeSessionTotal(tx, sessionID)
		return err
	})
	return total, err
}

// Finalise 所有结果置为已定稿并把会话置为 completed，重复调用无副作用
func (s *AggregatorService) Finalise(ctx context.Context, sessionID string) (*model.GradingSession, error) {
	var session *model.GradingSession
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		switch session.Status {
		case model.StatusReady, model.StatusCompleted:
		default:
			return fmt.Errorf("%w: status is %s", util.ErrSessionNotReady, session.Status)
		}

		questionIDs := tx.Model(&model.Question{}).Select("id").Where("session_id = ?", sessionID)
		if err := tx.Model(&model.GradingResult{}).
			Where("question_id IN (?)", questionIDs).
			Update("is_finalised", true).Error; err != nil {
			return err
		}

		if session.Status == model.StatusCompleted {
			return nil
		}
		if err := transitionStatus(tx, session, model.StatusCompleted, ""); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info("Session finalised", zap.String("session_id", sessionID))
	return session, nil
}

// TransitionStatus 校验状态机后写入新状态；from 非空时要求当前状态在其中
func (s *AggregatorService) TransitionStatus(ctx context.Context, sessionID string, to model.SessionStatus, errMsg string, from ...model.SessionStatus) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if len(from) > 0 && !containsStatus(from, session.Status) {
			return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, session.Status, to)
		}
		return transitionStatus(tx, session, to, errMsg)
	})
}

// transitionStatus 在调用方事务中执行
func transitionStatus(tx *gorm.DB, session *model.GradingSession, to model.SessionStatus, errMsg string) error {
	if !session.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, session.Status, to)
	}
	updates := map[string]interface{}{"status": to}
	if to == model.StatusError {
		updates["error_message"] = util.Truncate(errMsg, 2000)
	}
	if err := tx.Model(&model.GradingSession{}).Where("id = ?", session.ID).Updates(updates).Error; err != nil {
		return err
	}
	logger.Log.Debug("Session status changed",
		zap.String("session_id", session.ID),
		zap.String("from", string(session.Status)),
		zap.String("to", string(to)),
	)
	session.Status = to
	if to == model.StatusError {
		session.ErrorMessage = errMsg
	}
	return nil
}

func containsStatus(list []model.SessionStatus, s model.SessionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
